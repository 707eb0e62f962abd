package storage

import (
	"testing"
	"time"
)

func TestAcquireLeaseFreshAndRenew(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-lease-1")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	until := time.Now().Add(90 * time.Second)
	if err := store.AcquireLease("deal-lease-1", "worker-1", until); err != nil {
		t.Fatalf("AcquireLease() error = %v", err)
	}

	// Renewal by the same owner must succeed even before expiry.
	later := until.Add(time.Minute)
	if err := store.AcquireLease("deal-lease-1", "worker-1", later); err != nil {
		t.Fatalf("renewal AcquireLease() error = %v", err)
	}

	lease, err := store.GetLease("deal-lease-1")
	if err != nil {
		t.Fatal(err)
	}
	if lease.OwnerID != "worker-1" {
		t.Errorf("OwnerID = %q, want worker-1", lease.OwnerID)
	}
}

func TestAcquireLeaseRejectsOtherOwnerBeforeExpiry(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-lease-2")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	until := time.Now().Add(90 * time.Second)
	if err := store.AcquireLease("deal-lease-2", "worker-1", until); err != nil {
		t.Fatal(err)
	}

	if err := store.AcquireLease("deal-lease-2", "worker-2", until); err != ErrLeaseHeld {
		t.Errorf("AcquireLease() by second worker error = %v, want ErrLeaseHeld", err)
	}
}

func TestAcquireLeaseSucceedsAfterExpiry(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-lease-3")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	expired := time.Now().Add(-time.Minute)
	if err := store.AcquireLease("deal-lease-3", "worker-1", expired); err != nil {
		t.Fatal(err)
	}

	fresh := time.Now().Add(90 * time.Second)
	if err := store.AcquireLease("deal-lease-3", "worker-2", fresh); err != nil {
		t.Errorf("AcquireLease() after expiry error = %v, want nil", err)
	}

	lease, err := store.GetLease("deal-lease-3")
	if err != nil {
		t.Fatal(err)
	}
	if lease.OwnerID != "worker-2" {
		t.Errorf("OwnerID = %q, want worker-2", lease.OwnerID)
	}
}

func TestReleaseLease(t *testing.T) {
	store := newTestStorage(t)
	deal := createTestDealRecord("deal-lease-4")
	if err := store.CreateDeal(deal); err != nil {
		t.Fatal(err)
	}

	until := time.Now().Add(90 * time.Second)
	if err := store.AcquireLease("deal-lease-4", "worker-1", until); err != nil {
		t.Fatal(err)
	}
	if err := store.ReleaseLease("deal-lease-4", "worker-1"); err != nil {
		t.Fatalf("ReleaseLease() error = %v", err)
	}

	lease, err := store.GetLease("deal-lease-4")
	if err != nil {
		t.Fatal(err)
	}
	if lease != nil {
		t.Errorf("expected no lease after release, got %+v", lease)
	}
}

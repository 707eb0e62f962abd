package account

import (
	"context"
	"math/big"
	"testing"

	"github.com/klingon-exchange/escrow-coordinator/internal/backend"
	"github.com/klingon-exchange/escrow-coordinator/internal/chain"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/wallet"
)

// fakeEVMBackend is a hand-written EVMBackend double, in the teacher's
// stub-the-collaborator-directly style.
type fakeEVMBackend struct {
	balances     map[string]uint64
	nonces       map[string]uint64
	txs          map[string]*backend.Transaction
	broadcastTx  string
	broadcastErr error
	gasPrice     *big.Int
	chainID      uint64
	broadcasts   []string
}

func newFakeEVMBackend() *fakeEVMBackend {
	return &fakeEVMBackend{
		balances: make(map[string]uint64),
		nonces:   make(map[string]uint64),
		txs:      make(map[string]*backend.Transaction),
		gasPrice: big.NewInt(20_000_000_000),
		chainID:  1,
	}
}

func (f *fakeEVMBackend) Type() backend.Type               { return backend.TypeJSONRPC }
func (f *fakeEVMBackend) Connect(ctx context.Context) error { return nil }
func (f *fakeEVMBackend) Close() error                       { return nil }
func (f *fakeEVMBackend) IsConnected() bool                  { return true }
func (f *fakeEVMBackend) GetAddressInfo(ctx context.Context, address string) (*backend.AddressInfo, error) {
	return &backend.AddressInfo{Address: address, Balance: f.balances[address], TxCount: int64(f.nonces[address])}, nil
}
func (f *fakeEVMBackend) GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error) {
	return nil, nil
}
func (f *fakeEVMBackend) GetAddressTxs(ctx context.Context, address string, lastSeenTxID string) ([]backend.Transaction, error) {
	return nil, nil
}
func (f *fakeEVMBackend) GetTransaction(ctx context.Context, txID string) (*backend.Transaction, error) {
	tx, ok := f.txs[txID]
	if !ok {
		return nil, backend.ErrTxNotFound
	}
	return tx, nil
}
func (f *fakeEVMBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) { return nil, nil }
func (f *fakeEVMBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	f.broadcasts = append(f.broadcasts, rawTxHex)
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	return f.broadcastTx, nil
}
func (f *fakeEVMBackend) GetBlockHeight(ctx context.Context) (int64, error) { return 19_000_000, nil }
func (f *fakeEVMBackend) GetBlockHeader(ctx context.Context, hashOrHeight string) (*backend.BlockHeader, error) {
	return nil, nil
}
func (f *fakeEVMBackend) GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error) {
	return &backend.FeeEstimate{}, nil
}
func (f *fakeEVMBackend) EVMGetNonce(ctx context.Context, address string) (uint64, error) {
	return f.nonces[address], nil
}
func (f *fakeEVMBackend) EVMEstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	return 21000, nil
}
func (f *fakeEVMBackend) EVMGetGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeEVMBackend) EVMCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeEVMBackend) EVMGetChainID(ctx context.Context) (uint64, error) { return f.chainID, nil }

var _ EVMBackend = (*fakeEVMBackend)(nil)

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	w, err := wallet.NewFromMnemonic(mnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func newTestAdapter(t *testing.T, fb *fakeEVMBackend) *Adapter {
	t.Helper()
	a, err := New(Config{
		Symbol:          "ETH",
		Network:         chain.Mainnet,
		Wallet:          testWallet(t),
		Backend:         fb,
		OperatorAddress: "0x000000000000000000000000000000000000aa",
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestGenerateEscrowRoundTrips(t *testing.T) {
	fb := newFakeEVMBackend()
	a := newTestAdapter(t, fb)

	escrow, err := a.GenerateEscrow(context.Background(), "ETH", "deal-1", chainadapter.PartyA)
	if err != nil {
		t.Fatal(err)
	}
	if escrow.Address == "" || escrow.HDPath == "" {
		t.Fatalf("incomplete escrow: %+v", escrow)
	}
	if !wallet.ValidateEVMAddress(escrow.Address) {
		t.Errorf("derived address %q is not a valid EVM address", escrow.Address)
	}

	reloaded, err := New(Config{Symbol: "ETH", Network: chain.Mainnet, Wallet: a.wallet, Backend: fb})
	if err != nil {
		t.Fatal(err)
	}
	if err := reloaded.RegisterEscrow(escrow.Address, escrow.HDPath); err != nil {
		t.Fatal(err)
	}
	if reloaded.escrows[escrow.Address] != a.escrows[escrow.Address] {
		t.Error("RegisterEscrow did not reconstruct the original index")
	}
}

func TestSendWithoutRegisteredEscrowFails(t *testing.T) {
	fb := newFakeEVMBackend()
	a := newTestAdapter(t, fb)

	_, err := a.Send(context.Background(), "ETH", "0xunknown", "0xdest", "0.01")
	if err == nil {
		t.Fatal("expected error for unregistered escrow source")
	}
}

func TestSendNativeTransferBroadcasts(t *testing.T) {
	fb := newFakeEVMBackend()
	fb.broadcastTx = "0xabc123"
	a := newTestAdapter(t, fb)

	escrow, err := a.GenerateEscrow(context.Background(), "ETH", "deal-2", chainadapter.PartyA)
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Send(context.Background(), "ETH", escrow.Address, "0x00000000000000000000000000000000000bbb", "0.01")
	if err != nil {
		t.Fatal(err)
	}
	if res.TxID != "0xabc123" {
		t.Errorf("TxID = %q, want 0xabc123", res.TxID)
	}
	if len(fb.broadcasts) != 1 {
		t.Errorf("expected exactly one broadcast, got %d", len(fb.broadcasts))
	}
}

func TestListConfirmedDepositsZeroBalance(t *testing.T) {
	fb := newFakeEVMBackend()
	a := newTestAdapter(t, fb)

	res, err := a.ListConfirmedDeposits(context.Background(), "ETH", "0xsomeaddr", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deposits) != 0 {
		t.Errorf("expected no deposits for zero balance, got %+v", res.Deposits)
	}
}

func TestListConfirmedDepositsNonZeroBalance(t *testing.T) {
	fb := newFakeEVMBackend()
	fb.balances["0xfunded"] = 5_000_000_000_000_000_000
	a := newTestAdapter(t, fb)

	res, err := a.ListConfirmedDeposits(context.Background(), "ETH", "0xfunded", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Deposits) != 1 || res.Deposits[0].Amount != "5" {
		t.Errorf("unexpected deposits: %+v", res.Deposits)
	}
}

func TestEnsureFeeBudgetSkipsWhenAlreadyFunded(t *testing.T) {
	fb := newFakeEVMBackend()
	fb.balances["0xescrow"] = 1_000_000_000_000_000_000 // 1 ETH
	a := newTestAdapter(t, fb)

	err := a.EnsureFeeBudget(context.Background(), "0xescrow", "ETH", chainadapter.FeeIntentSingleTransfer, "0.001")
	if err != nil {
		t.Fatal(err)
	}
	if len(fb.broadcasts) != 0 {
		t.Errorf("expected no top-up broadcast, got %d", len(fb.broadcasts))
	}
}

func TestEnsureFeeBudgetTopsUpWhenShort(t *testing.T) {
	fb := newFakeEVMBackend()
	fb.balances["0xescrow"] = 0
	a := newTestAdapter(t, fb)

	err := a.EnsureFeeBudget(context.Background(), "0xescrow", "ETH", chainadapter.FeeIntentSingleTransfer, "0.001")
	if err != nil {
		t.Fatal(err)
	}
	if len(fb.broadcasts) != 1 {
		t.Errorf("expected exactly one top-up broadcast, got %d", len(fb.broadcasts))
	}
}

func TestCollectAndRequiredConfirms(t *testing.T) {
	fb := newFakeEVMBackend()
	a := newTestAdapter(t, fb)
	if a.CollectConfirms() != 3 {
		t.Errorf("CollectConfirms() = %d, want 3", a.CollectConfirms())
	}
	if a.RequiredConfirms() != 3 {
		t.Errorf("RequiredConfirms() = %d, want 3", a.RequiredConfirms())
	}
}

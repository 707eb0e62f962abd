// Package engine drives a deal through its state machine (§4.1): polling
// deposits, evaluating locks, building and submitting the transfer plan,
// and exposing the handful of operations a JSON-RPC façade would call.
// The tick loop and lease discipline follow the same shape as the
// teacher's Coordinator/Monitor pair: a context-scoped goroutine, a
// time.Ticker, and a graceful Stop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/deposit"
	"github.com/klingon-exchange/escrow-coordinator/internal/lock"
	"github.com/klingon-exchange/escrow-coordinator/internal/queue"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
	"github.com/klingon-exchange/escrow-coordinator/pkg/logging"
)

// DefaultCommissionPolicy is used when Config.Commission is nil: a flat
// 30bps commission paid in the trade asset, the same terms as the
// worked example in this system's design notes.
func DefaultCommissionPolicy(_ context.Context, _ *storage.DealRecord, _ storage.DealSide, _ chainadapter.Adapter) (lock.Plan, error) {
	return lock.Plan{Mode: lock.ModePercentBps, Currency: lock.CurrencyAsset, PercentBps: 30, CoveredBySurplus: true}, nil
}

// BrokerContractLookup resolves a chain to its configured broker contract
// address, or "" if none is configured (Open Question 1: broker mode
// never applies to UTXO chains, enforced by the planner by construction
// since it is only ever consulted for account-family sides here).
type BrokerContractLookup func(chain string) string

// GasTankLookup resolves a chain to its configured gas-tank address, the
// destination a GAS_REFUND_TO_TANK item pays out to, or "" if none is
// configured for that chain (§4.3 "Gas funding (EVM only)").
type GasTankLookup func(chain string) string

// CommissionPolicy computes the commission plan to freeze for one side of
// a deal on CREATED -> COLLECTION (I3). Deployments supply this from
// config's static commission defaults and, for FIXED_USD_NATIVE plans,
// an oracle quote obtained via the side's chain adapter.
type CommissionPolicy func(ctx context.Context, deal *storage.DealRecord, side storage.DealSide, adapter chainadapter.Adapter) (lock.Plan, error)

// Config configures a new Engine.
type Config struct {
	Store          *storage.Storage
	Adapters       deposit.AdapterLookup
	Log            *logging.Logger
	TickInterval   time.Duration // default 30s
	LeaseDuration  time.Duration // default 90s
	OwnerID        string        // default a random UUID
	BrokerContract BrokerContractLookup
	Commission     CommissionPolicy
	Recovery       queue.RecoveryPolicy
	BatchSize      int // due-deal batch size per tick, default 50
	LateWindow     time.Duration // default 7 * 24h

	// GasTank resolves a chain to its gas-tank refund address. Nil or a
	// lookup returning "" disables gas funding entirely for that chain.
	GasTank GasTankLookup
	// GasFundingFloor is the native-currency amount (decimal string) an
	// EVM escrow is topped up to, and the amount swept back to the gas
	// tank once the side's payout items complete. Default "0.01".
	GasFundingFloor string
}

// Metrics exposes the plain counters read under Engine's own mutex — no
// external metrics system is wired (§ supplemented features).
type Metrics struct {
	TicksProcessed   uint64
	DealsByStage     map[storage.DealStage]int
	LeasesHeld       int
}

// Engine is one worker's deal/queue processing loop.
type Engine struct {
	store          *storage.Storage
	adapters       deposit.AdapterLookup
	tracker        *deposit.Tracker
	queueProcessor *queue.Processor
	log            *logging.Logger

	tickInterval    time.Duration
	leaseDuration   time.Duration
	ownerID         string
	brokerFor       BrokerContractLookup
	commission      CommissionPolicy
	batchSize       int
	lateWindow      time.Duration
	gasTankFor      GasTankLookup
	gasFundingFloor string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	metrics Metrics
}

// New builds an Engine. It does not start the tick loop; call Start for
// that.
func New(cfg *Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = 30 * time.Second
	}
	leaseDuration := cfg.LeaseDuration
	if leaseDuration == 0 {
		leaseDuration = 90 * time.Second
	}
	ownerID := cfg.OwnerID
	if ownerID == "" {
		ownerID = uuid.New().String()
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 50
	}
	lateWindow := cfg.LateWindow
	if lateWindow == 0 {
		lateWindow = 7 * 24 * time.Hour
	}
	brokerFor := cfg.BrokerContract
	if brokerFor == nil {
		brokerFor = func(string) string { return "" }
	}
	gasTankFor := cfg.GasTank
	if gasTankFor == nil {
		gasTankFor = func(string) string { return "" }
	}
	gasFundingFloor := cfg.GasFundingFloor
	if gasFundingFloor == "" {
		gasFundingFloor = "0.01"
	}
	commission := cfg.Commission
	if commission == nil {
		commission = DefaultCommissionPolicy
	}
	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}
	log = log.Component("engine")

	return &Engine{
		store:           cfg.Store,
		adapters:        cfg.Adapters,
		tracker:         deposit.New(cfg.Store, cfg.Adapters),
		queueProcessor:  queue.New(cfg.Store, queue.AdapterLookup(cfg.Adapters), cfg.Recovery),
		log:             log,
		tickInterval:    tickInterval,
		leaseDuration:   leaseDuration,
		ownerID:         ownerID,
		brokerFor:       brokerFor,
		commission:      commission,
		batchSize:       batchSize,
		lateWindow:      lateWindow,
		gasTankFor:      gasTankFor,
		gasFundingFloor: gasFundingFloor,
		ctx:             ctx,
		cancel:          cancel,
		metrics:         Metrics{DealsByStage: map[storage.DealStage]int{}},
	}
}

// Start launches the tick loop in a background goroutine.
func (e *Engine) Start() {
	go e.run()
	e.log.Info("engine started", "owner", e.ownerID, "interval", e.tickInterval)
}

// Stop cancels the tick loop's context. It does not wait for an
// in-flight tick to finish (cmd/escrowd's signal handler calls Stop and
// then returns from main without waiting).
func (e *Engine) Stop() {
	e.cancel()
	e.log.Info("engine stopped", "owner", e.ownerID)
}

func (e *Engine) run() {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(e.ctx); err != nil {
				e.log.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick runs one pass over due deals: acquire each free/expired lease,
// process the deal under it, then release. It also runs the late-deposit
// watcher for recently CLOSED deals. Exported so tests and a CLI
// "run once" mode can drive it directly, the way the teacher exposes
// Monitor.CheckNow alongside its ticker-driven checkAllSwaps.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	e.metrics.TicksProcessed++
	e.mu.Unlock()

	stages := []storage.DealStage{
		storage.DealStageCollection,
		storage.DealStageWaiting,
		storage.DealStageSwap,
		storage.DealStageReverted,
	}
	deals, err := e.store.GetDealsInStages(stages...)
	if err != nil {
		return fmt.Errorf("engine: list due deals: %w", err)
	}
	if len(deals) > e.batchSize {
		deals = deals[:e.batchSize]
	}

	stageCounts := map[storage.DealStage]int{}
	leasesHeld := 0

	for _, deal := range deals {
		stageCounts[deal.Stage]++

		until := time.Now().Add(e.leaseDuration)
		if err := e.store.AcquireLease(deal.ID, e.ownerID, until); err != nil {
			if err == storage.ErrLeaseHeld {
				continue
			}
			e.log.Error("acquire lease failed", "deal", deal.ID, "error", err)
			continue
		}
		leasesHeld++

		if err := e.processDeal(ctx, deal); err != nil {
			e.log.Error("process deal failed", "deal", deal.ID, "stage", deal.Stage, "error", err)
		}

		if err := e.store.ReleaseLease(deal.ID, e.ownerID); err != nil {
			e.log.Error("release lease failed", "deal", deal.ID, "error", err)
		}
	}

	if err := e.processLateDeposits(ctx); err != nil {
		e.log.Error("late-deposit watcher failed", "error", err)
	}

	e.mu.Lock()
	e.metrics.DealsByStage = stageCounts
	e.metrics.LeasesHeld = leasesHeld
	e.mu.Unlock()

	return nil
}

// Metrics returns a snapshot of the engine's plain health counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	byStage := make(map[storage.DealStage]int, len(e.metrics.DealsByStage))
	for k, v := range e.metrics.DealsByStage {
		byStage[k] = v
	}
	return Metrics{
		TicksProcessed: e.metrics.TicksProcessed,
		DealsByStage:   byStage,
		LeasesHeld:     e.metrics.LeasesHeld,
	}
}

func (e *Engine) processDeal(ctx context.Context, deal *storage.DealRecord) error {
	switch deal.Stage {
	case storage.DealStageCollection:
		return e.processCollection(ctx, deal)
	case storage.DealStageWaiting:
		return e.processWaiting(ctx, deal)
	case storage.DealStageSwap:
		return e.processSwap(ctx, deal)
	case storage.DealStageReverted:
		return e.processReverted(ctx, deal)
	default:
		return nil
	}
}

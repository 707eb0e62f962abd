// Package mock provides a hand-written chainadapter.Adapter test double,
// matching the teacher's style of stubbing collaborators directly rather
// than reaching for a mocking framework.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
)

// Adapter is a programmable fake: tests seed Deposits/SendResults/Errors
// and then assert on the Sends log after exercising code under test.
type Adapter struct {
	mu sync.Mutex

	ChainSymbol   string
	Operator      string
	CollectConfs  uint32
	RequiredConfs uint32

	// Deposits, keyed by escrow address, returned verbatim by
	// ListConfirmedDeposits (minConf/since filtering is NOT applied;
	// seed exactly what the test wants returned).
	Deposits map[string][]chainadapter.Deposit

	// SendErr, if set, is returned by every Send call instead of a result.
	SendErr error

	// nextTxID is incremented by every Send call to build a unique
	// txid.
	nextTxID int

	// Sends records every Send call in order, for assertions.
	Sends []SendCall

	// Confirmations maps txid -> confirmation count returned by
	// GetTxConfirmations.
	Confirmations map[string]uint32

	// ValidAddresses, if non-nil, restricts ValidateAddress to members
	// of this set; nil means every address validates.
	ValidAddresses map[string]bool

	escrowSeq int
}

// SendCall records one invocation of Send for test assertions.
type SendCall struct {
	AssetCode  string
	FromEscrow string
	ToAddress  string
	Amount     string
}

// New constructs a mock adapter for the given chain symbol.
func New(chainSymbol string) *Adapter {
	return &Adapter{
		ChainSymbol:   chainSymbol,
		Operator:      "mock-operator-" + chainSymbol,
		CollectConfs:  2,
		RequiredConfs: 2,
		Deposits:      make(map[string][]chainadapter.Deposit),
		Confirmations: make(map[string]uint32),
	}
}

func (a *Adapter) Init(ctx context.Context) error { return nil }

func (a *Adapter) ValidateAddress(address string) bool {
	if a.ValidAddresses == nil {
		return address != ""
	}
	return a.ValidAddresses[address]
}

func (a *Adapter) GenerateEscrow(ctx context.Context, assetCode, dealID string, party chainadapter.Party) (chainadapter.Escrow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.escrowSeq++
	return chainadapter.Escrow{
		Address: fmt.Sprintf("mock-escrow-%s-%s-%s-%d", a.ChainSymbol, dealID, party, a.escrowSeq),
		HDPath:  fmt.Sprintf("m/44'/0'/0'/0/%d", a.escrowSeq),
	}, nil
}

func (a *Adapter) ListConfirmedDeposits(ctx context.Context, assetCode, address string, minConf uint32, since *int64) (chainadapter.ListConfirmedDepositsResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return chainadapter.ListConfirmedDepositsResult{Deposits: a.Deposits[address]}, nil
}

func (a *Adapter) Send(ctx context.Context, assetCode, fromEscrow, toAddress, amount string) (chainadapter.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Sends = append(a.Sends, SendCall{AssetCode: assetCode, FromEscrow: fromEscrow, ToAddress: toAddress, Amount: amount})

	if a.SendErr != nil {
		return chainadapter.SendResult{}, a.SendErr
	}

	a.nextTxID++
	txid := fmt.Sprintf("mock-tx-%s-%d", a.ChainSymbol, a.nextTxID)
	a.Confirmations[txid] = 0

	return chainadapter.SendResult{
		TxID:          txid,
		SubmittedAt:   time.Unix(0, 0).UTC(),
		NonceOrInputs: fmt.Sprintf("%d", a.nextTxID),
	}, nil
}

func (a *Adapter) GetTxConfirmations(ctx context.Context, txid string) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	confs, ok := a.Confirmations[txid]
	if !ok {
		return 0, chainadapter.NewError(a.ChainSymbol, "getTxConfirmations", chainadapter.KindUnknownTxid, nil)
	}
	return confs, nil
}

// SetConfirmations lets a test advance a previously submitted txid's
// confirmation count, simulating block progression.
func (a *Adapter) SetConfirmations(txid string, confs uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Confirmations[txid] = confs
}

func (a *Adapter) EnsureFeeBudget(ctx context.Context, fromEscrow, assetCode string, intent chainadapter.FeeIntent, minNative string) error {
	return nil
}

func (a *Adapter) QuoteNativeForUSD(ctx context.Context, usd string) (chainadapter.QuoteResult, error) {
	return chainadapter.QuoteResult{
		NativeAmount: usd,
		Quote: chainadapter.PriceQuote{
			Pair:   a.ChainSymbol + "/USD",
			Price:  "1",
			AsOf:   time.Unix(0, 0).UTC(),
			Source: "mock",
		},
	}, nil
}

func (a *Adapter) OperatorAddress() string { return a.Operator }

func (a *Adapter) CollectConfirms() uint32 { return a.CollectConfs }

func (a *Adapter) RequiredConfirms() uint32 { return a.RequiredConfs }

var _ chainadapter.Adapter = (*Adapter)(nil)

// Package utxo implements chainadapter.Adapter for UTXO-model chains
// (BTC, LTC, DOGE and forks), built on the HD wallet and tx-building
// code in internal/wallet and the read-only chain data providers in
// internal/backend.
package utxo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/backend"
	"github.com/klingon-exchange/escrow-coordinator/internal/chain"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/wallet"
	"github.com/klingon-exchange/escrow-coordinator/pkg/logging"
)

// Adapter implements chainadapter.Adapter for a single UTXO chain symbol
// (e.g. "BTC"). One Adapter instance is constructed per supported UTXO
// chain.
type Adapter struct {
	symbol  string
	params  *chain.Params
	network chain.Network

	wallet   *wallet.Wallet
	backend  backend.Backend
	operator string
	feeRate  uint64 // sat/vB fallback used if a live fee estimate is unavailable

	logger *logging.Logger

	mu      sync.Mutex
	escrows map[string]uint32 // escrow address -> BIP32 address index
}

// Config configures a new UTXO adapter.
type Config struct {
	Symbol          string
	Network         chain.Network
	Wallet          *wallet.Wallet
	Backend         backend.Backend
	OperatorAddress string
	FallbackFeeRate uint64 // sat/vB
	Logger          *logging.Logger
}

// New constructs a UTXO chain adapter.
func New(cfg Config) (*Adapter, error) {
	params, ok := chain.Get(cfg.Symbol, cfg.Network)
	if !ok {
		return nil, fmt.Errorf("utxo: unsupported chain %s/%s", cfg.Symbol, cfg.Network)
	}
	if params.Type != chain.ChainTypeBitcoin {
		return nil, fmt.Errorf("utxo: %s is not a UTXO-family chain", cfg.Symbol)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefault().Component("chainadapter-utxo-" + cfg.Symbol)
	}

	feeRate := cfg.FallbackFeeRate
	if feeRate == 0 {
		feeRate = 10
	}

	return &Adapter{
		symbol:   cfg.Symbol,
		params:   params,
		network:  cfg.Network,
		wallet:   cfg.Wallet,
		backend:  cfg.Backend,
		operator: cfg.OperatorAddress,
		feeRate:  feeRate,
		logger:   logger,
		escrows:  make(map[string]uint32),
	}, nil
}

func (a *Adapter) Init(ctx context.Context) error {
	return a.backend.Connect(ctx)
}

func (a *Adapter) ValidateAddress(address string) bool {
	return wallet.ValidateAddress(address, a.params)
}

func (a *Adapter) GenerateEscrow(ctx context.Context, assetCode, dealID string, party chainadapter.Party) (chainadapter.Escrow, error) {
	index := escrowIndex(dealID, party)

	address, err := a.wallet.DeriveAddress(a.symbol, 0, index)
	if err != nil {
		return chainadapter.Escrow{}, fmt.Errorf("utxo: derive escrow address: %w", err)
	}

	a.mu.Lock()
	a.escrows[address] = index
	a.mu.Unlock()

	path, _ := a.wallet.GetDerivationPath(a.symbol, 0, index)
	return chainadapter.Escrow{Address: address, HDPath: path}, nil
}

// RegisterEscrow repopulates the address->index cache for an escrow that
// was derived in a previous process lifetime (loaded from persisted
// deal state). Required before Send can resolve a private key for the
// address; not part of the chainadapter.Adapter interface since the
// engine, not the queue processor, owns deal-loading.
func (a *Adapter) RegisterEscrow(address, hdPath string) error {
	var purpose, coinType, account, change, index uint32
	n, err := fmt.Sscanf(hdPath, "m/%d'/%d'/%d'/%d/%d", &purpose, &coinType, &account, &change, &index)
	if err != nil || n != 5 {
		return fmt.Errorf("utxo: malformed hd path %q", hdPath)
	}
	a.mu.Lock()
	a.escrows[address] = index
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ListConfirmedDeposits(ctx context.Context, assetCode, address string, minConf uint32, since *int64) (chainadapter.ListConfirmedDepositsResult, error) {
	utxos, err := a.backend.GetAddressUTXOs(ctx, address)
	if err != nil {
		return chainadapter.ListConfirmedDepositsResult{}, chainadapter.NewError(a.symbol, "listConfirmedDeposits", chainadapter.KindTransientNetwork, err)
	}

	asset, ok := money.Lookup(assetCode)
	if !ok {
		return chainadapter.ListConfirmedDepositsResult{}, fmt.Errorf("utxo: unknown asset %q", assetCode)
	}

	result := chainadapter.ListConfirmedDepositsResult{}
	for _, u := range utxos {
		if uint32(u.Confirmations) < minConf {
			continue
		}
		if since != nil && u.BlockHeight < *since {
			continue
		}
		amount, err := money.NewFromString(fmt.Sprintf("%de-%d", u.Amount, asset.Decimals))
		if err != nil {
			return chainadapter.ListConfirmedDepositsResult{}, fmt.Errorf("utxo: convert amount: %w", err)
		}
		vout := u.Vout
		result.Deposits = append(result.Deposits, chainadapter.Deposit{
			TxID:        u.TxID,
			OutputIndex: &vout,
			// The backend reports satoshis; Amount is the decimal string
			// at the asset's registered scale.
			Amount:        amount.String(),
			BlockHeight:   u.BlockHeight,
			Confirmations: uint32(u.Confirmations),
		})
	}
	return result, nil
}

func (a *Adapter) Send(ctx context.Context, assetCode, fromEscrow, toAddress, amount string) (chainadapter.SendResult, error) {
	a.mu.Lock()
	index, ok := a.escrows[fromEscrow]
	a.mu.Unlock()
	if !ok {
		return chainadapter.SendResult{}, fmt.Errorf("utxo: no known HD index for escrow %s; call RegisterEscrow first", fromEscrow)
	}

	privKey, err := a.wallet.DerivePrivateKey(a.symbol, 0, index)
	if err != nil {
		return chainadapter.SendResult{}, fmt.Errorf("utxo: derive private key: %w", err)
	}

	utxos, err := a.backend.GetAddressUTXOs(ctx, fromEscrow)
	if err != nil {
		return chainadapter.SendResult{}, chainadapter.NewError(a.symbol, "send", chainadapter.KindTransientNetwork, err)
	}
	if len(utxos) == 0 {
		return chainadapter.SendResult{}, chainadapter.NewError(a.symbol, "send", chainadapter.KindNoUTXOsAvailable, nil)
	}

	amountSatoshis, err := toSmallestUnit(assetCode, amount)
	if err != nil {
		return chainadapter.SendResult{}, fmt.Errorf("utxo: parse amount: %w", err)
	}

	feeRate := a.currentFeeRate(ctx)

	rawTx, err := wallet.BuildAndSignTx(privKey, utxos, toAddress, fromEscrow, amountSatoshis, feeRate, a.params)
	if err != nil {
		return chainadapter.SendResult{}, fmt.Errorf("utxo: build transaction: %w", err)
	}

	txid, err := a.backend.BroadcastTransaction(ctx, rawTx)
	if err != nil {
		return chainadapter.SendResult{}, chainadapter.NewError(a.symbol, "send", chainadapter.KindBroadcastRejected, err)
	}

	inputs := make([]string, 0, len(utxos))
	for _, u := range utxos {
		inputs = append(inputs, fmt.Sprintf("%s:%d", u.TxID, u.Vout))
	}

	return chainadapter.SendResult{
		TxID:          txid,
		SubmittedAt:   time.Now().UTC(),
		NonceOrInputs: joinInputs(inputs),
	}, nil
}

func (a *Adapter) GetTxConfirmations(ctx context.Context, txid string) (uint32, error) {
	tx, err := a.backend.GetTransaction(ctx, txid)
	if err != nil {
		return 0, chainadapter.NewError(a.symbol, "getTxConfirmations", chainadapter.KindUnknownTxid, err)
	}
	if tx.Confirmations < 0 {
		return 0, nil
	}
	return uint32(tx.Confirmations), nil
}

// EnsureFeeBudget is a no-op for UTXO chains: transaction fees are
// deducted from the spent UTXOs themselves, not a separate gas balance.
func (a *Adapter) EnsureFeeBudget(ctx context.Context, fromEscrow, assetCode string, intent chainadapter.FeeIntent, minNative string) error {
	return nil
}

func (a *Adapter) QuoteNativeForUSD(ctx context.Context, usd string) (chainadapter.QuoteResult, error) {
	return chainadapter.QuoteResult{}, fmt.Errorf("utxo: QuoteNativeForUSD requires an oracle price feed wiring not configured for %s", a.symbol)
}

func (a *Adapter) OperatorAddress() string { return a.operator }

func (a *Adapter) CollectConfirms() uint32 { return a.params.CollectConfirms }

func (a *Adapter) RequiredConfirms() uint32 { return a.params.RequiredConfirms }

func (a *Adapter) currentFeeRate(ctx context.Context) uint64 {
	estimates, err := a.backend.GetFeeEstimates(ctx)
	if err != nil || estimates == nil || estimates.HalfHourFee == 0 {
		return a.feeRate
	}
	return estimates.HalfHourFee
}

// toSmallestUnit converts a decimal-string amount at the asset's declared
// scale (e.g. "0.001" BTC) into the chain's smallest integer unit
// (satoshis). UTXO amounts never exceed uint64 range at 8 decimals.
func toSmallestUnit(assetCode, amount string) (uint64, error) {
	asset, ok := money.Lookup(assetCode)
	if !ok {
		return 0, fmt.Errorf("unknown asset %q", assetCode)
	}
	a, err := money.NewFromString(amount)
	if err != nil {
		return 0, err
	}
	shifted := a.Truncate(asset.Decimals).ShiftToInt(asset.Decimals)
	return shifted, nil
}

func joinInputs(inputs []string) string {
	out := ""
	for i, s := range inputs {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

var _ chainadapter.Adapter = (*Adapter)(nil)

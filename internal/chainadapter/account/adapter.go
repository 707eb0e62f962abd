// Package account implements chainadapter.Adapter for account/nonce-model
// (EVM) chains, built on the HD wallet and EVM transaction code in
// internal/wallet and the JSON-RPC data provider in internal/backend.
package account

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/backend"
	"github.com/klingon-exchange/escrow-coordinator/internal/chain"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/money"
	"github.com/klingon-exchange/escrow-coordinator/internal/wallet"
	"github.com/klingon-exchange/escrow-coordinator/pkg/logging"
)

// EVMBackend narrows backend.Backend to the concrete JSON-RPC methods only
// available in EVM mode (nonce, gas estimation, eth_call). JSONRPCBackend
// satisfies this by method set; no adapter-side type assertion needed.
type EVMBackend interface {
	backend.Backend
	EVMGetNonce(ctx context.Context, address string) (uint64, error)
	EVMEstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
	EVMGetGasPrice(ctx context.Context) (*big.Int, error)
	EVMCall(ctx context.Context, to string, data []byte) ([]byte, error)
	EVMGetChainID(ctx context.Context) (uint64, error)
}

// Adapter implements chainadapter.Adapter for a single EVM chain symbol
// (e.g. "ETH", "POLYGON"). One Adapter instance is constructed per
// supported EVM chain.
type Adapter struct {
	symbol  string
	params  *chain.Params
	network chain.Network

	wallet   *wallet.Wallet
	backend  EVMBackend
	operator string
	gasLimit uint64

	logger *logging.Logger

	mu      sync.Mutex
	escrows map[string]uint32 // escrow address -> BIP32 address index
}

// Config configures a new account adapter.
type Config struct {
	Symbol          string
	Network         chain.Network
	Wallet          *wallet.Wallet
	Backend         EVMBackend
	OperatorAddress string
	GasLimit        uint64 // fallback gas limit for native transfers
	Logger          *logging.Logger
}

// New constructs an EVM account chain adapter.
func New(cfg Config) (*Adapter, error) {
	params, ok := chain.Get(cfg.Symbol, cfg.Network)
	if !ok {
		return nil, fmt.Errorf("account: unsupported chain %s/%s", cfg.Symbol, cfg.Network)
	}
	if params.Type != chain.ChainTypeEVM {
		return nil, fmt.Errorf("account: %s is not an account-family chain", cfg.Symbol)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefault().Component("chainadapter-account-" + cfg.Symbol)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = wallet.DefaultGasLimit
	}

	return &Adapter{
		symbol:   cfg.Symbol,
		params:   params,
		network:  cfg.Network,
		wallet:   cfg.Wallet,
		backend:  cfg.Backend,
		operator: cfg.OperatorAddress,
		gasLimit: gasLimit,
		logger:   logger,
		escrows:  make(map[string]uint32),
	}, nil
}

func (a *Adapter) Init(ctx context.Context) error {
	return a.backend.Connect(ctx)
}

func (a *Adapter) ValidateAddress(address string) bool {
	return wallet.ValidateEVMAddress(address)
}

func (a *Adapter) GenerateEscrow(ctx context.Context, assetCode, dealID string, party chainadapter.Party) (chainadapter.Escrow, error) {
	index := escrowIndex(dealID, party)

	address, err := a.wallet.DeriveAddress(a.symbol, 0, index)
	if err != nil {
		return chainadapter.Escrow{}, fmt.Errorf("account: derive escrow address: %w", err)
	}

	a.mu.Lock()
	a.escrows[address] = index
	a.mu.Unlock()

	path, _ := a.wallet.GetDerivationPath(a.symbol, 0, index)
	return chainadapter.Escrow{Address: address, HDPath: path}, nil
}

// RegisterEscrow repopulates the address->index cache for an escrow derived
// in a previous process lifetime; see utxo.Adapter.RegisterEscrow for why
// this exists outside the chainadapter.Adapter interface.
func (a *Adapter) RegisterEscrow(address, hdPath string) error {
	var purpose, coinType, account, change, index uint32
	n, err := fmt.Sscanf(hdPath, "m/%d'/%d'/%d'/%d/%d", &purpose, &coinType, &account, &change, &index)
	if err != nil || n != 5 {
		return fmt.Errorf("account: malformed hd path %q", hdPath)
	}
	a.mu.Lock()
	a.escrows[address] = index
	a.mu.Unlock()
	return nil
}

// ListConfirmedDeposits reports the escrow's current native balance as a
// single synthetic deposit keyed by the address itself (TxID = address),
// with the amount as a decimal string at the native asset's scale.
// Account-model chains carry one running balance per address rather than
// a UTXO set, and there is no per-deposit txid to track without an
// indexer. The entry's Confirmations is always the chain's
// CollectConfirms: the balance's confirmation depth is not checked, and
// minConf and since are not applied.
func (a *Adapter) ListConfirmedDeposits(ctx context.Context, assetCode, address string, minConf uint32, since *int64) (chainadapter.ListConfirmedDepositsResult, error) {
	info, err := a.backend.GetAddressInfo(ctx, address)
	if err != nil {
		return chainadapter.ListConfirmedDepositsResult{}, chainadapter.NewError(a.symbol, "listConfirmedDeposits", chainadapter.KindTransientNetwork, err)
	}
	if info.Balance == 0 {
		return chainadapter.ListConfirmedDepositsResult{}, nil
	}
	nativeAsset, ok := money.Lookup(a.nativeAssetCode())
	if !ok {
		return chainadapter.ListConfirmedDepositsResult{}, fmt.Errorf("account: native asset for %s not registered", a.symbol)
	}
	amount, err := money.NewFromString(fmt.Sprintf("%de-%d", info.Balance, nativeAsset.Decimals))
	if err != nil {
		return chainadapter.ListConfirmedDepositsResult{}, fmt.Errorf("account: convert balance: %w", err)
	}

	height, err := a.backend.GetBlockHeight(ctx)
	if err != nil {
		return chainadapter.ListConfirmedDepositsResult{}, chainadapter.NewError(a.symbol, "listConfirmedDeposits", chainadapter.KindTransientNetwork, err)
	}

	return chainadapter.ListConfirmedDepositsResult{
		Deposits: []chainadapter.Deposit{{
			TxID:          address,
			Amount:        amount.String(),
			BlockHeight:   height,
			Confirmations: a.params.CollectConfirms,
		}},
	}, nil
}

func (a *Adapter) Send(ctx context.Context, assetCode, fromEscrow, toAddress, amount string) (chainadapter.SendResult, error) {
	a.mu.Lock()
	index, ok := a.escrows[fromEscrow]
	a.mu.Unlock()
	if !ok {
		return chainadapter.SendResult{}, fmt.Errorf("account: no known HD index for escrow %s; call RegisterEscrow first", fromEscrow)
	}

	privKey, err := a.wallet.DerivePrivateKey(a.symbol, 0, index)
	if err != nil {
		return chainadapter.SendResult{}, fmt.Errorf("account: derive private key: %w", err)
	}

	nonce, err := a.backend.EVMGetNonce(ctx, fromEscrow)
	if err != nil {
		return chainadapter.SendResult{}, chainadapter.NewError(a.symbol, "send", chainadapter.KindTransientNetwork, err)
	}

	gasPrice, err := a.backend.EVMGetGasPrice(ctx)
	if err != nil {
		return chainadapter.SendResult{}, chainadapter.NewError(a.symbol, "send", chainadapter.KindTransientNetwork, err)
	}

	asset, ok := money.Lookup(assetCode)
	if !ok {
		return chainadapter.SendResult{}, fmt.Errorf("account: unknown asset %q", assetCode)
	}
	amt, err := money.NewFromString(amount)
	if err != nil {
		return chainadapter.SendResult{}, fmt.Errorf("account: parse amount: %w", err)
	}
	value := amt.Truncate(asset.Decimals).ShiftToBigInt(asset.Decimals)

	params := &wallet.EVMTxParams{
		Nonce:    nonce,
		ChainID:  a.params.ChainID,
		GasPrice: gasPrice,
		GasLimit: a.gasLimit,
	}

	if asset.Native {
		params.To = toAddress
		params.Value = value
		params = wallet.BuildSimpleETHTransfer(params)
	} else {
		if asset.Contract == "" {
			return chainadapter.SendResult{}, fmt.Errorf("account: asset %q has no ERC-20 contract configured", assetCode)
		}
		params, err = wallet.BuildERC20Transfer(asset.Contract, toAddress, value, params)
		if err != nil {
			return chainadapter.SendResult{}, fmt.Errorf("account: encode erc20 transfer: %w", err)
		}
	}

	result, err := wallet.BuildAndSignEVMTx(privKey, params)
	if err != nil {
		return chainadapter.SendResult{}, fmt.Errorf("account: build transaction: %w", err)
	}

	txid, err := a.backend.BroadcastTransaction(ctx, result.RawTx)
	if err != nil {
		return chainadapter.SendResult{}, chainadapter.NewError(a.symbol, "send", chainadapter.KindBroadcastRejected, err)
	}

	return chainadapter.SendResult{
		TxID:          txid,
		SubmittedAt:   time.Now().UTC(),
		NonceOrInputs: fmt.Sprintf("%d", nonce),
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

// EnsureFeeBudget tops up the escrow's native balance from the operator
// address when it falls short of minNative, since ERC-20 transfers (and
// any transfer at all, for that matter) still cost native gas on an
// account chain, unlike UTXO chains where the fee comes out of the UTXO
// set being spent.
func (a *Adapter) EnsureFeeBudget(ctx context.Context, fromEscrow, assetCode string, intent chainadapter.FeeIntent, minNative string) error {
	info, err := a.backend.GetAddressInfo(ctx, fromEscrow)
	if err != nil {
		return chainadapter.NewError(a.symbol, "ensureFeeBudget", chainadapter.KindTransientNetwork, err)
	}

	nativeAsset, ok := money.Lookup(a.nativeAssetCode())
	if !ok {
		return fmt.Errorf("account: native asset for %s not registered", a.symbol)
	}
	minAmt, err := money.NewFromString(minNative)
	if err != nil {
		return fmt.Errorf("account: parse minNative: %w", err)
	}
	minWei := minAmt.Truncate(nativeAsset.Decimals).ShiftToBigInt(nativeAsset.Decimals)

	if new(big.Int).SetUint64(info.Balance).Cmp(minWei) >= 0 {
		return nil // already funded
	}

	topUp := new(big.Int).Sub(minWei, new(big.Int).SetUint64(info.Balance))

	opIndex := uint32(0)
	opPrivKey, err := a.wallet.DerivePrivateKey(a.symbol, 0, opIndex)
	if err != nil {
		return fmt.Errorf("account: derive operator key: %w", err)
	}

	nonce, err := a.backend.EVMGetNonce(ctx, a.operator)
	if err != nil {
		return chainadapter.NewError(a.symbol, "ensureFeeBudget", chainadapter.KindTransientNetwork, err)
	}
	gasPrice, err := a.backend.EVMGetGasPrice(ctx)
	if err != nil {
		return chainadapter.NewError(a.symbol, "ensureFeeBudget", chainadapter.KindTransientNetwork, err)
	}

	params := wallet.BuildSimpleETHTransfer(&wallet.EVMTxParams{
		Nonce:    nonce,
		To:       fromEscrow,
		Value:    topUp,
		ChainID:  a.params.ChainID,
		GasPrice: gasPrice,
	})

	result, err := wallet.BuildAndSignEVMTx(opPrivKey, params)
	if err != nil {
		return fmt.Errorf("account: build gas top-up transaction: %w", err)
	}
	if _, err := a.backend.BroadcastTransaction(ctx, result.RawTx); err != nil {
		return chainadapter.NewError(a.symbol, "ensureFeeBudget", chainadapter.KindBroadcastRejected, err)
	}
	return nil
}

// QuoteNativeForUSD is not implemented here; see utxo.Adapter.QuoteNativeForUSD.
func (a *Adapter) QuoteNativeForUSD(ctx context.Context, usd string) (chainadapter.QuoteResult, error) {
	return chainadapter.QuoteResult{}, fmt.Errorf("account: QuoteNativeForUSD requires an oracle price feed wiring not configured for %s", a.symbol)
}

func (a *Adapter) OperatorAddress() string { return a.operator }

func (a *Adapter) CollectConfirms() uint32 { return a.params.CollectConfirms }

func (a *Adapter) RequiredConfirms() uint32 { return a.params.RequiredConfirms }

// nativeAssetCode returns the money-registry code for this chain's native
// gas token, which may differ from the chain symbol (e.g. POLYGON's native
// token is POL).
func (a *Adapter) nativeAssetCode() string {
	if a.params.NativeToken != "" {
		return a.params.NativeToken
	}
	return a.symbol
}

var _ chainadapter.Adapter = (*Adapter)(nil)

// Package main provides the escrowd daemon - the escrow-and-settlement
// coordination engine for OTC cross-chain asset swaps.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/escrow-coordinator/internal/backend"
	"github.com/klingon-exchange/escrow-coordinator/internal/chain"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter/account"
	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter/utxo"
	"github.com/klingon-exchange/escrow-coordinator/internal/config"
	"github.com/klingon-exchange/escrow-coordinator/internal/engine"
	"github.com/klingon-exchange/escrow-coordinator/internal/lock"
	"github.com/klingon-exchange/escrow-coordinator/internal/queue"
	"github.com/klingon-exchange/escrow-coordinator/internal/storage"
	"github.com/klingon-exchange/escrow-coordinator/internal/wallet"
	"github.com/klingon-exchange/escrow-coordinator/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.escrowd", "Data directory")
		configFile  = flag.String("config", "", "YAML overlay path (default: <data-dir>/config.yaml)")
		testnet     = flag.Bool("testnet", false, "Run against testnet chain parameters")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		tickOnce    = flag.Bool("tick-once", false, "Run a single engine tick and exit, instead of the daemon loop")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("escrowd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}
	dataPath := expandPath(effectiveDataDir)

	overlayPath := *configFile
	if overlayPath == "" {
		overlayPath = filepath.Join(dataPath, "config.yaml")
	}
	dealDefaults, engineDefaults, commissionDefault, operators, gasTank, err := config.LoadOverlay(overlayPath)
	if err != nil {
		log.Fatal("Failed to load config overlay", "error", err)
	}
	log.Info("Config loaded", "path", overlayPath, "timeoutSeconds", dealDefaults.TimeoutSeconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	network := chain.Mainnet
	if *testnet {
		network = chain.Testnet
	}

	walletService := wallet.NewService(&wallet.ServiceConfig{
		DataDir: dataPath, Network: network, Backends: backend.NewDefaultRegistry(network),
	})
	if !walletService.HasWallet() {
		log.Fatal("No wallet found; run escrowd's wallet setup before starting the daemon", "dataDir", dataPath)
	}
	if err := walletService.LoadWallet(os.Getenv("ESCROWD_WALLET_PASSWORD"), os.Getenv("ESCROWD_WALLET_PASSPHRASE")); err != nil {
		log.Fatal("Failed to unlock wallet", "error", err)
	}
	defer walletService.Lock()

	backendRegistry := backend.NewDefaultRegistry(network)
	if err := backendRegistry.ConnectAll(ctx); err != nil {
		log.Warn("Some chain backends failed to connect", "error", err)
	}
	defer backendRegistry.CloseAll()

	adapters := buildAdapters(log, walletService, backendRegistry, network, operators)
	adapterLookupForEngine := func(symbol string) (chainadapter.Adapter, bool) {
		a, ok := adapters[symbol]
		return a, ok
	}

	commissionPolicy := buildCommissionPolicy(commissionDefault)

	eng := engine.New(&engine.Config{
		Store:          store,
		Adapters:       adapterLookupForEngine,
		Log:            log.Component("engine"),
		TickInterval:   engineDefaults.TickInterval,
		LeaseDuration:  engineDefaults.LeaseDuration,
		OwnerID:        ownerID(),
		BrokerContract: config.BrokerContractLookup,
		Commission:     commissionPolicy,
		Recovery:       stuckTxRecoveryPolicy(),
		BatchSize:      engineDefaults.BatchSize,
		LateWindow:     dealDefaults.LateDepositWindow,
		GasTank:        func(chainSymbol string) string { return gasTank[chainSymbol] },
	})

	if *tickOnce {
		if err := eng.Tick(ctx); err != nil {
			log.Fatal("Tick failed", "error", err)
		}
		log.Info("Single tick complete")
		return
	}

	eng.Start()
	log.Info("Escrow coordinator started", "version", version, "tickInterval", engineDefaults.TickInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")
	eng.Stop()
}

// buildAdapters constructs one chainadapter.Adapter per configured chain
// symbol: an account-family adapter for EVM chains, a UTXO adapter for
// Bitcoin-family chains, both sharing the single unlocked wallet and a
// per-chain backend from the registry. Gas-tank addresses are not an
// adapter construction concern; they are threaded into engine.Config
// directly and consulted by the engine when it queues a
// GAS_REFUND_TO_TANK sweep.
func buildAdapters(log *logging.Logger, ws *wallet.Service, backends *backend.Registry, network chain.Network, operators map[string]string) map[string]chainadapter.Adapter {
	adapters := make(map[string]chainadapter.Adapter)

	for _, symbol := range chain.ListByType(chain.ChainTypeEVM) {
		be, ok := backends.Get(symbol)
		if !ok {
			log.Warn("No backend configured for chain, skipping adapter", "chain", symbol)
			continue
		}
		evmBackend, ok := be.(account.EVMBackend)
		if !ok {
			log.Warn("Backend does not satisfy EVM interface, skipping adapter", "chain", symbol)
			continue
		}
		a, err := account.New(account.Config{
			Symbol: symbol, Network: network, Wallet: ws.GetWallet(), Backend: evmBackend,
			OperatorAddress: operators[symbol], GasLimit: 21000, Logger: log.Component("chainadapter-" + symbol),
		})
		if err != nil {
			log.Warn("Failed to build account adapter", "chain", symbol, "error", err)
			continue
		}
		adapters[symbol] = a
	}

	for _, symbol := range chain.ListByType(chain.ChainTypeBitcoin) {
		be, ok := backends.Get(symbol)
		if !ok {
			log.Warn("No backend configured for chain, skipping adapter", "chain", symbol)
			continue
		}
		a, err := utxo.New(utxo.Config{
			Symbol: symbol, Network: network, Wallet: ws.GetWallet(), Backend: be,
			OperatorAddress: operators[symbol], FallbackFeeRate: 10, Logger: log.Component("chainadapter-" + symbol),
		})
		if err != nil {
			log.Warn("Failed to build UTXO adapter", "chain", symbol, "error", err)
			continue
		}
		adapters[symbol] = a
	}

	return adapters
}

// buildCommissionPolicy turns a compiled/overlay commission default into
// the per-side engine.CommissionPolicy closure; FIXED_USD_NATIVE plans
// quote against the side's own adapter at evaluation time rather than at
// startup, since the price can move between deals.
func buildCommissionPolicy(def config.CommissionDefault) engine.CommissionPolicy {
	return func(ctx context.Context, deal *storage.DealRecord, side storage.DealSide, adapter chainadapter.Adapter) (lock.Plan, error) {
		plan := lock.Plan{Mode: def.Mode, Currency: def.Currency, PercentBps: def.PercentBps, CoveredBySurplus: true}
		if def.Mode == lock.ModeFixedUSDNative {
			plan.USDFixed = def.USDFixed
			quote, err := adapter.QuoteNativeForUSD(ctx, def.USDFixed)
			if err != nil {
				return lock.Plan{}, err
			}
			plan.NativeFixed = quote.NativeAmount
			plan.OracleSnapshot = &lock.OracleSnapshot{
				Pair: quote.Quote.Pair, Price: quote.Quote.Price, AsOf: quote.Quote.AsOf, Source: quote.Quote.Source,
			}
		}
		return plan, nil
	}
}

// stuckTxRecoveryPolicy resubmits a submitted-but-unconfirmed item after
// 300s on EVM chains (§4.3's worked number) and after 1800s elsewhere,
// bumping nothing on the first three attempts and deferring to
// surfaceFailedItem beyond that.
func stuckTxRecoveryPolicy() queue.RecoveryPolicy {
	return queue.RecoveryPolicy{
		RecoveryAfter: func(chainSymbol string) time.Duration {
			if params, ok := chain.Get(chainSymbol, chain.Mainnet); ok && params.Type == chain.ChainTypeEVM {
				return 300 * time.Second
			}
			return 1800 * time.Second
		},
		MaxRecoveryAttempts: 3,
		BumpedFeeFor: func(chainSymbol string, attempt int) string {
			return ""
		},
	}
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "escrowd"
	}
	return host + "-" + os.Getenv("ESCROWD_INSTANCE_ID")
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

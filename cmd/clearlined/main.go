package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clearline/config"
	"clearline/core/events"
	"clearline/core/genesis"
	"clearline/crypto"
	"clearline/native/coordinator"
	"clearline/native/escrow"
	"clearline/native/governance"
	"clearline/native/reputation"
	"clearline/native/treasury"
	"clearline/observability/logging"
	"clearline/observability/metrics"
	"clearline/rpc"
	"clearline/state"
	"clearline/storage"
)

const rpcTokenEnv = "CLEARLINE_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CLEARLINE_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Env
	}
	logger := logging.Setup("clearlined", env, cfg.LogFile)

	token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if token == "" {
		token = cfg.RPCToken
	}
	if token == "" {
		logger.Error("RPC bearer token missing", slog.String("hint", "set RPCToken in config or "+rpcTokenEnv))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	emitter := metrics.NewObserver(events.NewRecorder(4096))

	if path := strings.TrimSpace(cfg.GenesisFile); path != "" {
		spec, err := genesis.LoadSpec(path)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis spec: %v", err))
		}
		applied, err := genesis.Apply(spec, manager)
		if err != nil {
			panic(fmt.Sprintf("Failed to apply genesis allocations: %v", err))
		}
		if applied {
			logger.Info("Genesis allocations applied", slog.Int("accounts", len(spec.Alloc)))
		}
	}

	admin, err := cfg.Admin()
	if err != nil {
		panic(fmt.Sprintf("Invalid admin address: %v", err))
	}
	pauser, err := cfg.Pauser()
	if err != nil {
		panic(fmt.Sprintf("Invalid pauser address: %v", err))
	}
	feeRecipient, err := cfg.FeeRecipient()
	if err != nil {
		panic(fmt.Sprintf("Invalid fee recipient address: %v", err))
	}

	gov, err := governance.NewEngine(governance.Policy{
		ParamDelaySeconds:       cfg.ParamDelaySeconds,
		MediatorActivationDelay: cfg.MediatorActivationDelaySeconds,
		MediatorRevokeCooldown:  cfg.MediatorRevokeCooldownSeconds,
		MaxFeeBps:               cfg.MaxFeeBps,
		MaxCancelPenaltyBps:     cfg.MaxCancelPenaltyBps,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to build governance engine: %v", err))
	}
	gov.SetState(manager)
	gov.SetEmitter(emitter)

	if err := gov.Bootstrap(admin, pauser, feeRecipient, cfg.FeeBps, cfg.CancelPenaltyBps); err != nil {
		if !errors.Is(err, governance.ErrAlreadyBootstrapped) {
			panic(fmt.Sprintf("Failed to bootstrap governance: %v", err))
		}
		logger.Info("Governance state restored from disk")
	} else {
		logger.Info("Governance bootstrapped",
			slog.String("admin", crypto.FormatAddress(admin)),
			slog.Uint64("feeBps", uint64(cfg.FeeBps)))
	}

	coordAddr := crypto.ModuleAddress("coordinator")
	vaultAddr := crypto.ModuleAddress("vault/default")

	vault := escrow.NewVault(vaultAddr)
	vault.SetState(manager)
	vault.SetEmitter(emitter)
	vault.SetOrchestrator(coordAddr)

	coord := coordinator.NewEngine(coordAddr, gov)
	coord.SetState(manager)
	coord.SetEmitter(emitter)
	coord.RegisterVault(vaultAddr, vault.Bind(coordAddr))

	approved, err := gov.VaultApproved(vaultAddr)
	if err != nil {
		panic(fmt.Sprintf("Failed to read vault allowlist: %v", err))
	}
	if !approved {
		if err := gov.ApproveVault(admin, vaultAddr); err != nil {
			panic(fmt.Sprintf("Failed to approve default vault: %v", err))
		}
		logger.Info("Default vault approved", slog.String("vault", crypto.FormatAddress(vaultAddr)))
	}

	archive := treasury.New(crypto.ModuleAddress("treasury/archive"))
	archive.SetState(manager)
	archive.SetCoordinator(coordAddr)
	coord.SetTreasury(archive)

	snapshot, err := gov.Snapshot()
	if err != nil {
		panic(fmt.Sprintf("Failed to read governance state: %v", err))
	}
	registryAddr := crypto.ModuleAddress("reputation/registry")
	if snapshot.Registry != ([20]byte{}) {
		// An executed registry swap outlives restarts.
		registryAddr = snapshot.Registry
	}
	registry := reputation.NewRegistry(registryAddr)
	registry.SetStore(manager)
	coord.SetReputation(registry)

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics listener stopped", slog.Any("error", err))
			}
		}()
		logger.Info("Metrics listener started", slog.String("address", addr))
	}

	server := rpc.NewServer(coord, gov, vault, registry, token, logger)
	logger.Info("RPC listener starting", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC listener stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/launchfleet/launchbot/internal/chain"
	"github.com/launchfleet/launchbot/internal/classifier"
	"github.com/launchfleet/launchbot/internal/config"
	"github.com/launchfleet/launchbot/internal/coordinator"
	"github.com/launchfleet/launchbot/internal/engage"
	"github.com/launchfleet/launchbot/internal/flows"
	"github.com/launchfleet/launchbot/internal/pinner"
	"github.com/launchfleet/launchbot/internal/state"
	filestore "github.com/launchfleet/launchbot/internal/state/file"
	pgstore "github.com/launchfleet/launchbot/internal/state/pg"
	"github.com/launchfleet/launchbot/internal/threads"
	"github.com/launchfleet/launchbot/internal/transport"
	"github.com/launchfleet/launchbot/internal/transport/bridge"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the message engine",
		Run: func(cmd *cobra.Command, args []string) {
			runEngine()
		},
	}
}

func runEngine() {
	// Secrets live in .env during development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	tp, err := bridge.Dial(ctx, cfg.Transport.BridgeURL, cfg.Agent.Name)
	if err != nil {
		slog.Error("transport dial failed", "url", cfg.Transport.BridgeURL, "error", err)
		os.Exit(1)
	}
	limited := transport.NewRateLimited(tp)

	eth, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		slog.Error("chain dial failed", "url", cfg.Chain.RPCURL, "error", err)
		os.Exit(1)
	}
	defer eth.Close()

	launcher, err := chain.NewLauncher(tp,
		common.HexToAddress(cfg.Chain.ManagerFactory),
		common.HexToAddress(cfg.Chain.CoinFactory),
		cfg.Chain.Network)
	if err != nil {
		slog.Error("launcher setup failed", "error", err)
		os.Exit(1)
	}

	completer := classifier.New(cfg.Classifier.APIKey, cfg.Classifier.APIBase, cfg.Classifier.Model)
	uploader := pinner.NewIPFS(cfg.Pinner.APIURL, "")

	tracker := threads.New(cfg.Engine.ThreadWindow(), stickyFromStore(ctx, store))
	engager := engage.New(tp.AgentID(), cfg.Agent.Name, tracker, completer, cfg.Classifier.LLMAssist)

	receipts := chain.NewProcessor(store, eth, limited)
	if d := cfg.Chain.ReceiptTimeout(); d > 0 {
		receipts.SetTimeout(d)
	}

	router := flows.NewRouter(flows.Handlers{
		PendingTx:   flows.NewPendingTx(),
		Onboarding:  flows.NewOnboarding(cfg.Chain.Network),
		GroupCreate: flows.NewGroupCreate(cfg.Chain.Network),
		QA:          flows.NewQA(),
		Management:  flows.NewManagement(),
		CoinLaunch:  flows.NewCoinLaunch(cfg.Chain.Network),
	})

	coord := coordinator.New(coordinator.Deps{
		Transport: limited,
		Store:     store,
		Engager:   engager,
		Completer: completer,
		Router:    router,
		Receipts:  receipts,
		Tracker:   tracker,
		Uploader:  uploader,
		Launcher:  launcher,
	}, cfg.Engine.PairWindow())

	slog.Info("engine started",
		"agent", cfg.Agent.Name,
		"inbox", tp.AgentID(),
		"network", cfg.Chain.Network,
	)

	for msg := range tp.Messages(ctx) {
		coord.Ingest(ctx, msg)
	}

	// Drain half-held pairs before exiting.
	coord.Flush(context.Background())
	slog.Info("engine stopped")
}

// openStore picks the state backend: a postgres DSN selects the database
// store, otherwise the JSON file store.
func openStore(cfg *config.Config) (state.Store, error) {
	if dsn := cfg.Store.DSN; dsn != "" {
		if err := pgstore.MigrateUp(dsn); err != nil {
			return nil, err
		}
		db, err := pgstore.OpenDB(dsn)
		if err != nil {
			return nil, err
		}
		slog.Info("state store: postgres")
		return pgstore.New(db), nil
	}
	slog.Info("state store: file", "dir", cfg.Store.Dir)
	return filestore.New(expandHome(cfg.Store.Dir))
}

// stickyFromStore keeps participants with a pending transaction or in-flight
// workflow engaged past the thread window.
func stickyFromStore(ctx context.Context, store state.Store) threads.StickyFunc {
	return func(conversationID string, addr common.Address) bool {
		g, err := store.Group(ctx, conversationID)
		if err != nil || g == nil {
			return false
		}
		gp, ok := g.Participants[state.Key(addr)]
		if !ok {
			return false
		}
		return gp.PendingTx != nil || gp.Progress != nil
	}
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

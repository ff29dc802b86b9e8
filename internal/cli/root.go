package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/broker"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/engine"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/lifecycle"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
	Paper  *broker.PaperBroker
	Broker broker.Broker
	Deps   *engine.HedgeRiskContext
	Engine *engine.Engine
	Unwind *lifecycle.UnwindController
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = config.DefaultConfigDir() + "/hedger.db"
	}
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, falling back to in-memory state")
		app.Store = store.NewMemoryStore()
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	recorder, err := audit.NewLogger(audit.Config{
		LogDir:     config.DefaultConfigDir() + "/audit",
		MaxSize:    50,
		MaxBackups: 10,
		MaxAge:     365,
	})
	var auditRecorder audit.Recorder = recorder
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize audit log")
		auditRecorder = audit.NopRecorder{}
	}

	// Paper broker behind the resilience wrapper. Chains are loaded per
	// command from snapshot files.
	app.Paper = broker.NewPaperBroker()
	quoteTimeout := parseDuration(cfg.Liquidity.QuoteTimeout, 5*time.Second)
	app.Broker = broker.NewResilientBroker(app.Paper, quoteTimeout, logger)

	app.Deps = engine.NewHedgeRiskContext(app.Store, cfg, auditRecorder, logger)
	app.Engine = engine.New(cfg, app.Deps, app.Broker, logger)
	app.Unwind = lifecycle.NewUnwindController(
		app.Broker, app.Store, auditRecorder, logger,
		cfg.Sizing.ContractMult,
		cfg.Roll.Smoothing.AssignmentHigh,
		parseDuration(cfg.Unwind.FillVerifyTimeout, 30*time.Second),
	)

	rootCmd := &cobra.Command{
		Use:   "hedger",
		Short: "Portfolio hedge sizing and lifecycle engine",
		Long: `Hedger sizes protective put hedges against a canonical downside
scenario, enforces premium budget caps over a rolling window, and manages
the resulting positions through rolls, assignment risk, and emergency
unwind.

Use 'hedger help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/alchemiser-hedger)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addEvaluateCommands(rootCmd, app)
	addLifecycleCommands(rootCmd, app)
	addUnwindCommands(rootCmd, app)
	addGateCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addUtilityCommands(rootCmd, app)

	return rootCmd
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

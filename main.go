package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/agentcoach/internal/agents"
	"github.com/example/agentcoach/internal/ai"
	"github.com/example/agentcoach/internal/assessment"
	"github.com/example/agentcoach/internal/bot"
	"github.com/example/agentcoach/internal/config"
	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/internal/events"
	"github.com/example/agentcoach/internal/excel"
	"github.com/example/agentcoach/internal/logging"
	"github.com/example/agentcoach/internal/memory"
	"github.com/example/agentcoach/internal/messagebus"
	"github.com/example/agentcoach/internal/metrics"
	"github.com/example/agentcoach/internal/scheduler"
	"github.com/example/agentcoach/internal/training"
)

// app is the constructed module graph
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	clock    clock.Clock
	store    *database.SQLStore
	bus      *events.Bus
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	service  *training.Service
	closers  []func() error
}

func newApp(envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		clock:    clock.New(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.store, err = database.Connect(cfg.DBType, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	directory, err := agents.LoadFile(cfg.AgentsFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("path", cfg.AgentsFile).Msg("Agents file not found, starting with an empty directory")
		directory, err = agents.NewDirectory()
	}
	if err != nil {
		a.close()
		return nil, err
	}

	// The engine and the agents fall back to deterministic behavior without a key
	var (
		llm       assessment.LLMProvider
		responder training.Responder
	)
	if cfg.OpenAIAPIKey != "" {
		chatGPT, err := ai.New(ai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			APIURL:  cfg.OpenAIAPIURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.LLMTimeout,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		llm, responder = chatGPT, chatGPT
	} else {
		logger.Warn().Msg("OPENAI_API_KEY is not set, using deterministic question generation and grading")
	}

	a.bus = events.NewBus(a.clock, logger)
	engine := assessment.New(llm, a.clock, logger, assessment.WithFallbackRecorder(a.metrics))
	a.service = training.NewService(training.Dependencies{
		Store:     a.store,
		Engine:    engine,
		Memory:    memory.NewManager(a.store, a.store, a.clock, logger),
		Agents:    directory,
		Responder: responder,
		Events:    a.bus,
		Clock:     a.clock,
		Logger:    logger,
	}, training.Config{MaxIterations: cfg.MaxIterations, PhaseDuration: cfg.PhaseDuration})
	return a, nil
}

// registerHandlers attaches the event handlers enabled by configuration, in
// delivery order
func (a *app) registerHandlers() error {
	a.bus.Register("log", events.NewLogHandler(a.logger))
	a.bus.Register("metrics", a.metrics)

	if a.cfg.TelegramBotToken != "" {
		notifier, err := bot.New(bot.Config{Token: a.cfg.TelegramBotToken, ChatIDs: a.cfg.TelegramChatIDs}, a.logger)
		if err != nil {
			return err
		}
		a.bus.Register("telegram", notifier)
	}
	if a.cfg.NATSURL != "" {
		publisher, err := messagebus.Connect(messagebus.Config{
			URL:           a.cfg.NATSURL,
			SubjectPrefix: a.cfg.NATSSubjectPrefix,
		}, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, publisher.Close)
		a.bus.Register("nats", publisher)
	}
	a.logger.Info().Strs("handlers", a.bus.Handlers()).Msg("Event handlers registered")
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}

func serve(a *app) error {
	if err := a.registerHandlers(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("Serving metrics")

	sched, err := scheduler.New(a.service, a.clock, a.cfg.TickInterval, a.cfg.PhaseDuration, a.metrics, a.logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()
	a.logger.Info().Msg("Shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	var envFile string

	// withApp builds the graph for a command and tears it down afterwards
	withApp := func(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(envFile)
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd, args, a)
		}
	}

	rootCmd := &cobra.Command{
		Use:           "agentcoach",
		Short:         "Autonomous competency training for agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading the environment")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the training scheduler and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return serve(a)
		}),
	}

	importCmd := &cobra.Command{
		Use:   "import-specialties [file]",
		Short: "Import specialties from an Excel or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			importConfig := excel.DefaultImportConfig()
			importConfig.FilePath = args[0]
			importConfig.SheetName, _ = cmd.Flags().GetString("sheet")
			importConfig.StartRow, _ = cmd.Flags().GetInt("start-row")

			result, err := excel.ImportSpecialties(cmd.Context(), a.service, importConfig)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d rows: %d created, %d updated, %d skipped\n",
				result.TotalProcessed, result.Created, result.Updated, result.Skipped)
			for _, e := range result.Errors {
				fmt.Println("  " + e)
			}
			return nil
		}),
	}
	importCmd.Flags().String("sheet", "Sheet1", "Sheet to read from an Excel file")
	importCmd.Flags().Int("start-row", 2, "First row to import (1-based)")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Start a training session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			req := training.StartRequest{}
			req.AgentID, _ = cmd.Flags().GetString("agent")
			req.SpecialtyID, _ = cmd.Flags().GetString("specialty")
			req.TargetLevel, _ = cmd.Flags().GetString("target")
			req.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")

			session, err := a.service.StartSession(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(session)
		}),
	}
	trainCmd.Flags().String("agent", "", "Agent ID")
	trainCmd.Flags().String("specialty", "", "Specialty ID")
	trainCmd.Flags().String("target", "", "Target competency level (defaults to the highest)")
	trainCmd.Flags().Int("max-iterations", 0, "Iteration budget (defaults to MAX_ITERATIONS)")
	_ = trainCmd.MarkFlagRequired("agent")
	_ = trainCmd.MarkFlagRequired("specialty")

	forgetCmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove an agent's obsolete low-confidence knowledge",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			agentID, _ := cmd.Flags().GetString("agent")
			n, err := a.service.ForgetObsolete(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d obsolete knowledge items\n", n)
			return nil
		}),
	}
	forgetCmd.Flags().String("agent", "", "Agent ID")
	_ = forgetCmd.MarkFlagRequired("agent")

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Print an agent's expertise profile",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			agentID, _ := cmd.Flags().GetString("agent")
			profile, err := a.service.BuildExpertiseProfile(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			return printJSON(profile)
		}),
	}
	profileCmd.Flags().String("agent", "", "Agent ID")
	_ = profileCmd.MarkFlagRequired("agent")

	rootCmd.AddCommand(serveCmd, importCmd, trainCmd, forgetCmd, profileCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

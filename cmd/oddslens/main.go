package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hexlattice/oddslens/internal/config"
	"github.com/hexlattice/oddslens/internal/engine"
	"github.com/hexlattice/oddslens/internal/forecaster"
	"github.com/hexlattice/oddslens/internal/gamma"
	"github.com/hexlattice/oddslens/internal/notify"
	"github.com/hexlattice/oddslens/internal/pipeline"
	"github.com/hexlattice/oddslens/internal/server"
	"github.com/hexlattice/oddslens/internal/storage"
	"github.com/hexlattice/oddslens/internal/tasks"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "oddslens",
		Short:         "Prediction market calibration and divergence feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yaml", "path to configuration file")

	root.AddCommand(serveCmd(), crawlCmd(), analyzeCmd(), seedCmd(), cleanCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration, then configures logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogging(cfg.Logging)
	log.Info().Str("path", cfgPath).Msg("configuration loaded")
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.Storage.MaxEvents, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// buildRunner wires the crawl pipeline from configuration. The returned
// notifier is non-nil only when Telegram is enabled.
func buildRunner(cfg *config.Config, store *storage.Storage) (*pipeline.Runner, *notify.Telegram, error) {
	source := gamma.NewClient(cfg.Gamma.BaseURL, gamma.ClientConfig{
		Timeout:    cfg.Gamma.Timeout,
		MaxRetries: cfg.Gamma.MaxRetries,
		RetryDelay: cfg.Gamma.RetryDelay,
		RateLimit:  cfg.Gamma.RateLimit,
		RateBurst:  cfg.Gamma.RateBurst,
	})

	var fc forecaster.Forecaster
	if cfg.Forecaster.Enabled {
		fc = forecaster.NewClient(cfg.Forecaster.BaseURL, forecaster.ClientConfig{
			APIKey:     cfg.Forecaster.APIKey,
			Model:      cfg.Forecaster.Model,
			Timeout:    cfg.Forecaster.Timeout,
			MaxRetries: cfg.Forecaster.MaxRetries,
			RetryDelay: cfg.Forecaster.RetryDelay,
			RateLimit:  cfg.Forecaster.RateLimit,
			RateBurst:  cfg.Forecaster.RateBurst,
		})
	} else {
		log.Warn().Msg("forecaster disabled, predictions will carry baselines only")
	}

	var tg *notify.Telegram
	var notifier pipeline.Notifier
	if cfg.Telegram.Enabled {
		var err error
		tg, err = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Telegram: %w", err)
		}
		notifier = tg
	}

	minOdds, minMarkets, maxMarkets := cfg.SelectorConfig()
	runner := pipeline.New(store, source, fc, engine.SelectorConfig{
		MinOddsThreshold: minOdds,
		MinMarkets:       minMarkets,
		MaxMarkets:       maxMarkets,
	}, notifier, pipeline.Config{
		PageSize:    cfg.Gamma.PageSize,
		MaxEvents:   cfg.Gamma.MaxEvents,
		Concurrency: cfg.Forecaster.Concurrency,
		DigestTopK:  cfg.Engine.DigestTopK,
	})
	return runner, tg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic crawl loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner, tg, err := buildRunner(cfg, store)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			srv := server.New(store, server.Config{
				Host:         cfg.Server.Host,
				Port:         cfg.Server.Port,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			})

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.ListenAndServe()
			}()
			go pollLoop(ctx, runner, tg, cfg.Gamma.PollInterval)

			select {
			case sig := <-sigChan:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			case err := <-errChan:
				log.Error().Err(err).Msg("http server stopped")
			}
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// pollLoop runs crawl cycles at the configured interval. Telegram receives
// an alert on the first failure of a sequence and a recovery note when
// cycles succeed again.
func pollLoop(ctx context.Context, runner *pipeline.Runner, tg *notify.Telegram, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	runCycle := func() {
		err := runner.Crawl(ctx)
		if err != nil {
			consecutiveFailures++
			log.Error().Err(err).Int("consecutive", consecutiveFailures).Msg("crawl cycle failed")
			if consecutiveFailures == 1 && tg != nil {
				if sendErr := tg.SendError(err); sendErr != nil {
					log.Warn().Err(sendErr).Msg("failed to send error notification")
				}
			}
			return
		}
		if consecutiveFailures > 0 && tg != nil {
			if sendErr := tg.SendRecovery(consecutiveFailures); sendErr != nil {
				log.Warn().Err(sendErr).Msg("failed to send recovery notification")
			}
		}
		consecutiveFailures = 0
	}

	runCycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle()
		}
	}
}

func crawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl-and-calibrate cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner, _, err := buildRunner(cfg, store)
			if err != nil {
				return err
			}
			return runner.Crawl(cmd.Context())
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Recalibrate stored events from their latest snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner, _, err := buildRunner(cfg, store)
			if err != nil {
				return err
			}
			return runner.Recalibrate(cmd.Context())
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <csv-path>",
		Short: "Import predictions from a CSV analysis export",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := tasks.Seed(store, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("imported %d of %d rows (%d without a stored event, %d with bad JSON)\n",
				report.Imported, report.Rows, report.NoEvent, report.BadJSON)
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Re-check stored events upstream and delete stale ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			source := gamma.NewClient(cfg.Gamma.BaseURL, gamma.ClientConfig{
				Timeout:    cfg.Gamma.Timeout,
				MaxRetries: cfg.Gamma.MaxRetries,
				RetryDelay: cfg.Gamma.RetryDelay,
				RateLimit:  cfg.Gamma.RateLimit,
				RateBurst:  cfg.Gamma.RateBurst,
			})

			report, err := tasks.Clean(cmd.Context(), store, source)
			if err != nil {
				return err
			}
			fmt.Printf("checked %d events: %d updated, %d deleted, %d missing upstream, %d failed\n",
				report.Checked, report.Updated, report.Deleted, report.Missing, report.Failed)
			return nil
		},
	}
}

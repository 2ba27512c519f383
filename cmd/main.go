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

	"github.com/spf13/cobra"

	"github.com/choco2105/magic-reading/internal/config"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
	"github.com/choco2105/magic-reading/internal/pipeline"
	"github.com/choco2105/magic-reading/internal/web"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "magic-reading",
		Short:         "Illustrated reading stories for children",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath), newGenerateCmd(&configPath))
	return root
}

func setup(configPath string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := web.NewStageHub(log)
	go hub.Run(hubCtx)

	a, err := buildApp(ctx, cfg, log, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	router := web.NewRouter(web.Deps{
		Stories:    a.pipeline,
		Progress:   a.progress,
		Hub:        hub,
		Stats:      a.cascade.Stats(),
		ImageCache: a.imageCache,
		Checks:     a.checks,
		Logger:     log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-quit:
	}

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	log.Info("server stopped")
	return nil
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var (
		level  string
		topic  string
		userID string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate, illustrate and store one story, printing it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			stages := pipeline.ObserverFunc(func(ev pipeline.StageEvent) {
				log.Debug("stage", "request_id", ev.RequestID, "stage", ev.Stage)
			})
			a, err := buildApp(cmd.Context(), cfg, log, stages)
			if err != nil {
				return err
			}
			defer a.Close()

			story, err := a.pipeline.AssembleAndPersist(cmd.Context(), models.GenerationRequest{
				Level:  models.Level(level),
				Topic:  topic,
				UserID: userID,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(story)
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", string(models.LevelBasic), "reading level: basic, intermediate or advanced")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "optional story topic")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "user id the story is stored for")
	return cmd
}

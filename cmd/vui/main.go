// Command vui runs the voice intake loop without the desktop shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vui/internal/audio"
	"vui/internal/bootstrap"
	"vui/internal/config"
	"vui/internal/logging"
	"vui/internal/usecase"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile, logLevel string

	root := &cobra.Command{
		Use:          "vui",
		Short:        "Voice intake assistant",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $HOME/.config/vui/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug|info|warn|error)")

	load := func() (config.Config, zerolog.Logger, func(), error) {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return config.Config{}, zerolog.Nop(), nil, err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, closer, err := logging.New(cfg.Log)
		if err != nil {
			return config.Config{}, zerolog.Nop(), nil, err
		}
		return cfg, logger, func() { _ = closer.Close() }, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one conversation until the form is submitted or interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, done, err := load()
				if err != nil {
					return err
				}
				defer done()
				return runConversation(cmd.Context(), cfg, newConsoleSink(cmd.OutOrStdout(), logger), logger)
			},
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List audio capture and playback devices",
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, logger, done, err := load()
				if err != nil {
					return err
				}
				defer done()

				devices := audio.NewDeviceContext(logger)
				defer devices.Close()
				capture, playback, err := devices.DeviceNames()
				if err != nil {
					return err
				}
				printDevices(cmd.OutOrStdout(), capture, playback)
				return nil
			},
		},
	)
	return root
}

func runConversation(parent context.Context, cfg config.Config, sink *consoleSink, logger zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(ctx, cfg, sink, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer services.Close()

	if err := services.Controller.Start(ctx); err != nil {
		return err
	}
	if err := services.Controller.Wait(context.Background()); err != nil && !errors.Is(err, usecase.ErrNoActiveConversation) {
		return err
	}

	status := services.Controller.Status()
	logger.Info().Str("conversation", status.ConversationID).Str("state", string(status.State)).Msg("conversation ended")
	if sink.failed() {
		return errors.New("conversation ended after a backend error")
	}
	return nil
}

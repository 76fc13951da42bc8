package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/config"
	"github.com/smokyabdulrahman/prayer-alarms/internal/logging"
)

var (
	flagListen     string
	flagPrettyLogs bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alarm daemon with its HTTP API",
		Long: "Keep today's timings fresh, reschedule alarms every minute and deliver due\n" +
			"notifications. The HTTP API exposes today's timings, the cache and prayer completion.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&flagListen, "listen", "", "HTTP listen address (default "+config.DefaultListenAddr+")")
	cmd.Flags().BoolVar(&flagPrettyLogs, "pretty", false, "Human-readable logs instead of JSON")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := effectiveConfig(cmd)
	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}

	// The daemon logs at info unless told otherwise.
	level := cfg.LogLevel
	if flagWasSet(cmd.Flags(), cmd.Root().PersistentFlags(), "log-level") {
		level = FlagLogLevel
	}
	if level == "" {
		level = config.DefaultLogLevel
	}
	logging.Setup(level, flagPrettyLogs)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := resolveLocation(ctx, cfg)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("location", string(loc.Coords.Key())).
		Str("listen", cfg.ListenAddr).
		Str("backend", cfg.Backend()).
		Msg("prayer-alarms daemon starting")

	if err := a.Run(ctx, loc.Coords, cfg.MethodOrDefault(-1)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("prayer-alarms daemon stopped")
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/danmuck/botlink/internal/admin"
	"github.com/danmuck/botlink/internal/config"
	"github.com/danmuck/botlink/internal/gateway"
	"github.com/danmuck/botlink/internal/logging"
	"github.com/danmuck/botlink/internal/observability"
	"github.com/danmuck/botlink/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "botlinkd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to botlink.toml")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := observability.InitLogger("botlinkd")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	gw, err := gateway.New(cfg.Gateway, logger)
	if err != nil {
		return err
	}
	// A bind failure here is the one fatal startup condition.
	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Close()

	adm := admin.New(gw, cfg.AdminAddr, cfg.CorsOrigins, logger)
	if err := adm.Start(); err != nil {
		return err
	}

	go drainEvents(gw, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownGrace)
	defer cancel()
	if err := adm.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin shutdown incomplete")
	}
	return gw.Close()
}

// drainEvents keeps the event channel flowing; substantive peer
// notifications are surfaced in the log until a real consumer exists.
func drainEvents(gw *gateway.Gateway, logger zerolog.Logger) {
	for ev := range gw.Events() {
		logEvent(logger, ev)
	}
}

func logEvent(logger zerolog.Logger, ev *wire.Event) {
	logger.Debug().
		Str("post_type", ev.PostType).
		Int("bytes", len(ev.Raw)).
		Msg("peer event")
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/sync/errgroup"

	"github.com/meterbridge/meterbridge/pkg/bridge"
	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/publish"
	"github.com/meterbridge/meterbridge/pkg/server"
	"github.com/meterbridge/meterbridge/pkg/storage"
)

func main() {
	// init packages, the catalog must come before the bridge
	s := storage.Configured()
	sink := publish.Configured()
	catalog := publish.ConfiguredCatalog()
	b := bridge.Configured(s, sink, catalog)

	// init server
	srv := server.Configured(b)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level := log.ConfigureLevel()
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Run(ctx)
	})
	eg.Go(func() error {
		return b.Run(ctx)
	})
	if err := eg.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "meterbridge failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "meterbridge exited cleanly")
}

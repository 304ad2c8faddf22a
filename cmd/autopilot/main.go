package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/raterudder/autopilot/pkg/autopilot"
	"github.com/raterudder/autopilot/pkg/device"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/notify"
	"github.com/raterudder/autopilot/pkg/server"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/utility"
)

func main() {
	// init packages
	s := storage.Configured()
	u := utility.Configured()
	d := device.Configured(s)
	n := notify.Configured()
	e := autopilot.Configured(s, d, u, n)

	// init server
	srv := server.Configured(e)

	tickInterval := lflag.Duration("tick-interval", 0, "Tick every home on this interval (e.g. 5m). 0 leaves ticking to POST /api/tick.")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	defer func() {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to close notifier", slog.Any("error", err))
			}
		}
	}()

	if *tickInterval > 0 {
		go tickLoop(ctx, e, *tickInterval)
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// tickLoop ticks every home until ctx is done. A tick that overruns the
// interval delays the next one instead of overlapping it.
func tickLoop(ctx context.Context, e *autopilot.Engine, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		sum, err := e.TickAll(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "tick failed", slog.Any("error", err))
		} else {
			log.Ctx(ctx).DebugContext(ctx, "tick finished", slog.String("message", sum.Message), slog.Int("succeeded", sum.Succeeded))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Command liveconn serves one live session's recovery state, its event
// stream and its metrics.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/liveconn/providers"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var (
	addr  = flag.String("addr", "", "listen address (overrides LIVE_LISTEN_ADDR)")
	debug = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	plugin := providers.NewLivePlugin()
	if err := plugin.Activate(logger); err != nil {
		logger.Fatal().Err(err).Msg("activate live plugin")
	}

	app := fiber.New()
	plugin.RegisterRoutes(app)

	listen := plugin.ListenAddr()
	if *addr != "" {
		listen = *addr
	}
	server := &fasthttp.Server{
		Handler:     plugin.Handler(app.Handler()),
		Name:        "liveconn",
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listen).Msg("listening")
		errCh <- server.ListenAndServe(listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server stopped")
		exit = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := server.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	cancel()
	if err := plugin.Deactivate(); err != nil {
		exit = 1
	}
	os.Exit(exit)
}

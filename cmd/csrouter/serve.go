package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cs-router/config"
	"cs-router/middleware"
	"cs-router/registry"
	"cs-router/router"
	"cs-router/server"
	"cs-router/transport"
)

func serve(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "time allowed for in-flight streams on shutdown")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer p.close()
	cfg := p.cfg
	if cfg.Role == config.RoleClient {
		return fmt.Errorf("serve needs a server role, got %q", cfg.Role)
	}

	// Failures on a server are answered to the sender, which decides what to do with them.
	r := router.New(
		router.WithLogger(p.logger.Named("router")),
		router.WithMetrics(p.metrics),
		router.WithTopology(cfg.TopologyFunc()),
		router.WithReportInterpreterErrors(false))
	defer r.Close()

	svr := server.NewServer(r.Interpreter(),
		server.WithLogger(p.logger.Named("server")),
		server.WithRegistry(p.registry, registry.NewInstance(cfg.Role, cfg.Advertise, cfg.Rank)),
		server.WithTTL(cfg.Registry.TTL))
	svr.Use(middleware.LoggingMiddleware(p.logger.Named("stream")))
	svr.Use(middleware.MetricsMiddleware(p.metrics))
	if cfg.Middleware.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Middleware.RateLimit, cfg.Middleware.RateBurst))
	}
	if cfg.Middleware.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Middleware.Timeout))
	}

	if p.nc != nil {
		if err := svr.ServeNATS(p.nc, transport.Subject(cfg.Role)); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("tcp", cfg.Listen) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		p.logger.Info("shutting down", zap.Stringer("signal", sig))
	}
	if err := svr.Shutdown(*shutdownTimeout); err != nil {
		return err
	}
	return <-errCh
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"cs-router/config"
	"cs-router/metric"
	"cs-router/registry"
)

// process holds what every command sets up from the configuration.
type process struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry registry.Registry
	nc       *nats.Conn
	metrics  *metric.Metrics
	httpSrv  *metric.Server
	closers  []func()
}

func setup(configPath string) (*process, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	p := &process{cfg: cfg, logger: logger.With(zap.String("role", cfg.Role))}
	p.closers = append(p.closers, func() { _ = logger.Sync() })

	switch cfg.Registry.Kind {
	case config.RegistryEtcd:
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, p.logger)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		p.registry = reg
		p.closers = append(p.closers, func() { reg.Close() })
	default:
		p.registry = registry.NewMemoryRegistry()
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(fmt.Sprintf("%s-%s-%d", appName, cfg.Role, cfg.Rank)),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			p.close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		p.nc = nc
		p.closers = append(p.closers, nc.Close)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p.metrics = metric.New(reg)
	if cfg.MetricsAddr != "" {
		p.httpSrv = metric.NewServer(cfg.MetricsAddr, reg)
		if err := p.httpSrv.Start(); err != nil {
			p.close()
			return nil, err
		}
		p.logger.Info("serving metrics", zap.String("addr", p.httpSrv.Addr()))
		p.closers = append(p.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			p.httpSrv.Stop(ctx)
		})
	}
	return p, nil
}

// close releases resources in reverse order of acquisition.
func (p *process) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// readStreams returns args, or the non-empty lines of stdin when args is empty.
func readStreams(args []string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var out []string
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

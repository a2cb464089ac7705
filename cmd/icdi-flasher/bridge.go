package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bigbag/icdi-flasher/internal/bridge"
)

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	p, name, err := openProbe(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("Probe: %s\n", name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithQueueDepth(cfg.Bridge.QueueDepth),
	}

	if cfg.Bridge.Metrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, bridge.WithMetrics(bridge.NewMetrics(reg)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{
			Addr:              cfg.Bridge.Metrics,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		fmt.Printf("Metrics on http://%s/metrics\n", cfg.Bridge.Metrics)
	}

	fmt.Printf("Listening on %s, press Ctrl-C to stop\n", cfg.Bridge.Listen)
	return bridge.New(p, opts...).ListenAndServe(ctx, cfg.Bridge.Listen)
}

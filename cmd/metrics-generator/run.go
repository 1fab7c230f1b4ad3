package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opscart/k8s-metrics-generator/pkg/backfill"
	"github.com/opscart/k8s-metrics-generator/pkg/catalog"
	"github.com/opscart/k8s-metrics-generator/pkg/config"
	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/retry"
	"github.com/opscart/k8s-metrics-generator/pkg/scheduler"
	"github.com/opscart/k8s-metrics-generator/pkg/simulator"
	"github.com/opscart/k8s-metrics-generator/pkg/sink"
	"github.com/opscart/k8s-metrics-generator/pkg/storage"
)

// Startup connect policy: 10 attempts, 5 seconds apart
const (
	connectAttempts = 10
	connectDelay    = 5 * time.Second
)

func runGenerator(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(v)
	if err != nil {
		return err
	}
	seed := masterSeed(cfg, log)
	watermark := time.Now()

	cat, err := loadCatalog(cfg, watermark, log)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := connectStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := upsertMetadata(ctx, store, cat, log); err != nil {
		return err
	}

	workloads := cat.AllWorkloads()
	snk, err := sink.New(store, workloads, sink.Options{
		BatchSize: cfg.BatchSize,
		Retry:     cfg.RetryPolicy(),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	registry := newRegistry(snk,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv := newServer(cfg.MetricsAddr, registry, store, log)
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
			stop()
		}
	}()

	if cfg.GenerateHistorical {
		runHistorical(ctx, cfg, workloads, engine, snk, seed, watermark, log)
	} else {
		log.Info("Historical backfill disabled")
	}

	if ctx.Err() == nil {
		sched, err := scheduler.New(workloads, engine, snk, simulator.NewRNG(seed, simulator.SubsystemLive), scheduler.Options{
			Interval:  cfg.GenerationInterval,
			Watermark: watermark,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		if err := sched.Run(ctx); err != nil {
			log.WithError(err).Error("Live generation failed")
		}
	}

	log.WithField("grace", cfg.ShutdownGrace).Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := snk.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Final flush incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Metrics server shutdown incomplete")
	}
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(v)
	if err != nil {
		return err
	}
	watermark, err := parseWatermark(until, time.Now())
	if err != nil {
		return err
	}
	seed := masterSeed(cfg, log)

	cat, err := loadCatalog(cfg, watermark, log)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := connectStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := upsertMetadata(ctx, store, cat, log); err != nil {
		return err
	}

	workloads := cat.AllWorkloads()
	snk, err := sink.New(store, workloads, sink.Options{
		BatchSize: cfg.BatchSize,
		Retry:     cfg.RetryPolicy(),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	res := runHistorical(ctx, cfg, workloads, engine, snk, seed, watermark, log)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := snk.Close(closeCtx); err != nil {
		log.WithError(err).Warn("Final flush incomplete")
	}

	return printResult(cmd.OutOrStdout(), res)
}

// runHistorical backfills up to watermark within BackfillTimeout. An
// abandoned backfill is logged; live generation proceeds regardless.
func runHistorical(ctx context.Context, cfg *config.Config, workloads []models.Workload, engine *simulator.Engine,
	w backfill.Writer, seed int64, watermark time.Time, log logrus.FieldLogger) backfill.Result {
	job, err := backfill.NewJob(workloads, engine, w, simulator.NewRNG(seed, simulator.SubsystemBackfill), backfill.Options{
		Window:    cfg.HistoricalWindow(),
		Interval:  cfg.HistoricalInterval,
		BatchSize: cfg.BatchSize,
		Logger:    log,
	})
	if err != nil {
		log.WithError(err).Error("Historical backfill not started")
		return backfill.Result{}
	}

	bctx, cancel := context.WithTimeout(ctx, cfg.BackfillTimeout)
	defer cancel()
	res, _ := job.Run(bctx, watermark)
	return res
}

// connectStore opens the configured store, retrying while the database
// comes up
func connectStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (storage.Store, error) {
	policy := retry.NewPolicy(connectAttempts, connectDelay, connectDelay)
	policy.Notify = func(attempt int, err error, delay time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"storage": cfg.StorageType,
		}).Warn("Database not reachable, retrying")
	}

	var store storage.Store
	err := policy.Do(ctx, func(ctx context.Context) error {
		s, err := storage.New(ctx, cfg.StorageConfig())
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithField("storage", cfg.StorageType).Info("Connected to store")
	return store, nil
}

// upsertMetadata writes cluster and workload rows before any sample
func upsertMetadata(ctx context.Context, store storage.Store, cat *catalog.Catalog, log logrus.FieldLogger) error {
	if err := store.UpsertClusters(ctx, cat.Clusters()); err != nil {
		return err
	}
	if err := store.UpsertWorkloads(ctx, cat.AllWorkloads()); err != nil {
		return err
	}
	log.WithField("workloads", cat.Len()).Info("Registered cluster and workload metadata")
	return nil
}

func newServer(addr string, registry *prometheus.Registry, store storage.Store, log logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.WithError(err).Debug("Health check failed")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func printResult(out io.Writer, res backfill.Result) error {
	status := "complete"
	if !res.Completed {
		status = "abandoned"
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Backfill:\t%s\n", status)
	fmt.Fprintf(tw, "Window:\t%s to %s\n", res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339))
	fmt.Fprintf(tw, "Workloads:\t%d\n", res.Workloads)
	if !res.Completed && res.LastWorkload != "" {
		fmt.Fprintf(tw, "Last complete workload:\t%s\n", res.LastWorkload)
	}
	fmt.Fprintf(tw, "Generated:\t%d\n", res.Generated)
	fmt.Fprintf(tw, "Written:\t%d\n", res.Written)
	fmt.Fprintf(tw, "Dropped batches:\t%d\n", res.DroppedBatches)
	fmt.Fprintf(tw, "Duration:\t%s\n", res.Duration.Round(time.Millisecond))
	return tw.Flush()
}

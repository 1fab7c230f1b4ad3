package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/opscart/k8s-metrics-generator/pkg/analyzer"
	"github.com/opscart/k8s-metrics-generator/pkg/backfill"
	"github.com/opscart/k8s-metrics-generator/pkg/catalog"
	"github.com/opscart/k8s-metrics-generator/pkg/models"
	"github.com/opscart/k8s-metrics-generator/pkg/reporter"
	"github.com/opscart/k8s-metrics-generator/pkg/scheduler"
	"github.com/opscart/k8s-metrics-generator/pkg/simulator"
	"github.com/opscart/k8s-metrics-generator/pkg/sink"
	"github.com/opscart/k8s-metrics-generator/pkg/storage"
)

func runCatalog(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if dumpDefinitions {
		_, err := out.Write(catalog.DefaultDefinitions())
		return err
	}

	cfg, log, err := setup(v)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg, time.Now(), log)
	if err != nil {
		return err
	}
	return printCatalog(out, cat)
}

func printCatalog(out io.Writer, cat *catalog.Catalog) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tNAMESPACE\tNAME\tKIND\tCLASS\tPROFILE\tPATTERN\tCPU\tMEMORY (Mi)\tCPU LIMIT\tID")
	for _, cl := range cat.Clusters() {
		for _, w := range cat.WorkloadsByCluster(cl.ID) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.3f\t%d\t%.3f\t%s\n",
				w.ClusterName, w.Namespace, w.Name, w.Kind, w.Class, w.Profile, w.Pattern,
				w.BaselineCPU, w.BaselineMemory>>20, w.CPULimit, w.ID)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, cl := range cat.Clusters() {
		fmt.Fprintf(out, "%s (%s): %d workloads\n", cl.Name, cl.Provider, cl.WorkloadCount)
	}
	return nil
}

// seriesWriter keeps generated batches in memory, per workload
type seriesWriter struct {
	series map[string][]models.MetricSample
}

func newSeriesWriter() *seriesWriter {
	return &seriesWriter{series: make(map[string][]models.MetricSample)}
}

func (s *seriesWriter) WriteBatch(_ context.Context, batch []models.MetricSample) error {
	for _, m := range batch {
		s.series[m.WorkloadID] = append(s.series[m.WorkloadID], m)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	format, err := reporter.ParseFormat(reportFormat)
	if err != nil {
		return err
	}
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

	workloads := cat.AllWorkloads()
	series := newSeriesWriter()
	job, err := backfill.NewJob(workloads, engine, series, simulator.NewRNG(seed, simulator.SubsystemPreview), backfill.Options{
		Window:    cfg.HistoricalWindow(),
		Interval:  cfg.HistoricalInterval,
		BatchSize: cfg.BatchSize,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if _, err := job.Run(cmd.Context(), watermark); err != nil {
		return err
	}

	summaries := make([]*analyzer.SeriesSummary, 0, len(workloads))
	for i := range workloads {
		w := &workloads[i]
		s, err := analyzer.Summarize(w, series.series[w.ID], cfg.Location)
		if err != nil {
			log.WithError(err).WithField("workload", w.Key()).Warn("Skipping workload")
			continue
		}
		summaries = append(summaries, s)
	}

	r := reporter.New(format)
	return r.Write(r.Generate(summaries, seed, time.Now()), cmd.OutOrStdout())
}

func runExport(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	if exportOutput != "-" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}

	workloads := cat.AllWorkloads()
	csvw, err := reporter.NewSampleWriter(out, workloads)
	if err != nil {
		return err
	}
	// Same stream as backfill, so the file matches what a backfill with this
	// seed and watermark stores
	job, err := backfill.NewJob(workloads, engine, csvw, simulator.NewRNG(seed, simulator.SubsystemBackfill), backfill.Options{
		Window:    cfg.HistoricalWindow(),
		Interval:  cfg.HistoricalInterval,
		BatchSize: cfg.BatchSize,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	if _, err := job.Run(cmd.Context(), watermark); err != nil {
		return err
	}
	if err := csvw.Flush(); err != nil {
		return err
	}
	log.WithField("rows", csvw.Rows()).Info("Exported samples")
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(v)
	if err != nil {
		return err
	}
	seed := masterSeed(cfg, log)
	now := time.Now()

	cat, err := loadCatalog(cfg, now, log)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	workloads := cat.AllWorkloads()
	snk, err := sink.New(storage.NewMemoryStore(), workloads, sink.Options{
		BatchSize: cfg.BatchSize,
		Retry:     cfg.RetryPolicy(),
		Logger:    log,
	})
	if err != nil {
		return err
	}
	sched, err := scheduler.New(workloads, engine, snk, simulator.NewRNG(seed, simulator.SubsystemLive), scheduler.Options{
		Interval: cfg.GenerationInterval,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	sched.Tick(cmd.Context(), now)
	if err := snk.Close(cmd.Context()); err != nil {
		return err
	}

	return writeExposition(cmd.OutOrStdout(), newRegistry(snk))
}

// newRegistry exposes the sink's latest values and counters plus any extra
// collectors
func newRegistry(snk *sink.Sink, extra ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(snk.Collector())
	registry.MustRegister(extra...)
	return registry
}

// writeExposition encodes one scrape of registry in the text format
func writeExposition(out io.Writer, registry prometheus.Gatherer) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

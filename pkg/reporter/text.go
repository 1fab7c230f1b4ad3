package reporter

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// GenerateText writes a human readable table of the report
func GenerateText(report *Report, writer io.Writer) error {
	fmt.Fprintf(writer, "Window: %s to %s (seed %d)\n\n",
		report.Start.Format(time.RFC3339), report.End.Format(time.RFC3339), report.Seed)

	tw := tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKLOAD\tSAMPLES\tCPU P50\tCPU P95\tCPU PEAK\tMEM AVG (Mi)\tCPU GROWTH/DAY\tWEEKEND\tPATTERN\tDETECTED")
	for _, s := range report.Summaries {
		detected := string(s.Detected)
		if detected == "" {
			detected = "-"
		} else if !s.Matches() {
			detected += " (!)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.0f\t%+.3f%%\t%.2f\t%s\t%s\n",
			s.Workload,
			s.Samples,
			s.CPU.P50,
			s.CPU.P95,
			s.CPU.Peak,
			s.Memory.Average/(1024*1024),
			s.CPUGrowth.RatePerDay,
			s.WeekendRatio,
			s.Expected,
			detected,
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Fprintln(writer)
	tw = tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tWORKLOADS\tSAMPLES\tPEAK CPU\tAVG MEM (Gi)\tPATTERN MATCH")
	for _, c := range report.Clusters() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%d/%d\n",
			c.Cluster, c.Workloads, c.Samples, c.PeakCPU, c.AvgMemory/(1<<30), c.Matched, c.Workloads)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	_, err := fmt.Fprintf(writer, "\nPatterns recognised: %d/%d\n", report.Matched, len(report.Summaries))
	return err
}

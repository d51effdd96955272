package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/torosent/loadpilot/internal/metrics"
	"github.com/torosent/loadpilot/internal/results"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report <result-file>",
		Short: "Render a saved result document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := results.Load(args[0])
			if err != nil {
				return err
			}
			renderSummary(summary)
			return nil
		},
	}
}

func renderSummary(s *metrics.Summary) {
	fmt.Println()
	fmt.Println(bold("Load Test Results"))
	fmt.Printf("  Generated: %s\n\n", s.Timestamp)

	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()

	tbl := table.New("Metric", "Value")
	tbl.WithHeaderFormatter(headerFmt)
	tbl.AddRow("Total Requests", s.TotalRequests)
	tbl.AddRow("Successful", green(s.SuccessfulRequests))
	tbl.AddRow("Failed", failures(s.FailedRequests))
	tbl.AddRow("Success Rate", fmt.Sprintf("%.1f%%", s.SuccessRate))
	tbl.AddRow("Duration", fmt.Sprintf("%.2fs", s.Duration))
	tbl.AddRow("Requests/sec", fmt.Sprintf("%.2f", s.RequestsPerSecond))
	tbl.AddRow("Peak RPS", fmt.Sprintf("%.2f", s.PeakRPS))
	tbl.AddRow("Avg Latency", fmt.Sprintf("%.2fms", s.AvgResponseTime))
	tbl.AddRow("p50 Latency", fmt.Sprintf("%.2fms", s.Percentile50))
	tbl.AddRow("p95 Latency", fmt.Sprintf("%.2fms", s.Percentile95))
	tbl.AddRow("p99 Latency", fmt.Sprintf("%.2fms", s.Percentile99))
	tbl.Print()

	if len(s.Codes) > 0 {
		fmt.Println()
		fmt.Println(bold("Status Codes"))
		codes := make([]string, 0, len(s.Codes))
		for code := range s.Codes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		codeTbl := table.New("Code", "Count")
		codeTbl.WithHeaderFormatter(headerFmt)
		for _, code := range codes {
			codeTbl.AddRow(code, s.Codes[code])
		}
		codeTbl.Print()
	}

	if len(s.Errors) > 0 {
		fmt.Println()
		fmt.Printf("%s (%d retained)\n", bold("Errors"), len(s.Errors))
		limit := len(s.Errors)
		if limit > 10 {
			limit = 10
		}
		for _, e := range s.Errors[:limit] {
			msg := e.Message
			if len(msg) > 100 {
				msg = msg[:100] + "..."
			}
			fmt.Printf("  %s %s\n", red(fmt.Sprintf("[%d]", e.Code)), msg)
		}
	}

	fmt.Println()
	fmt.Printf("%s %d points\n", cyan("Timeseries:"), len(s.Timeseries))
}

func failures(n int64) any {
	if n > 0 {
		return red(n)
	}
	return n
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/analytics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/store"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the analytics overview as JSON",
		RunE:  runReport,
	}
	f := cmd.Flags()
	f.String("db", "tracker.db", "SQLite database path")
	f.Duration("stale-after", model.DefaultEngineConfig().StaleAfter, "Idle in-progress sessions older than this count as abandoned")
	f.Int("gap-limit", analytics.DefaultGapLimit, "Number of weakest skills listed")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	agg := analytics.NewAggregator(db, v.GetDuration("stale-after"),
		analytics.WithGapLimit(v.GetInt("gap-limit")),
	)
	ov, err := agg.Overview(context.Background())
	if err != nil {
		return fmt.Errorf("build overview: %w", err)
	}

	data, err := json.MarshalIndent(ov, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

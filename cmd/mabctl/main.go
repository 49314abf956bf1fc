package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/activeview/mab/internal/bandit"
	"github.com/activeview/mab/internal/store"
)

var (
	// Global flags
	postgresConn string
	verbose      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mabctl",
		Short: "Operator tool for the Thompson sampling allocation service",
		Long: `mabctl replays stored allocation audits to verify reproducibility and
runs what-if simulations of the allocation engine from the command line.`,
	}

	rootCmd.PersistentFlags().StringVar(&postgresConn, "postgres-conn", "", "Postgres connection string")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")

	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// replayCmd recomputes a stored allocation from its audit record
func replayCmd() *cobra.Command {
	var (
		allocationID string
		auditFile    string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Recompute a stored allocation and verify it is bit-identical",
		Long: `Loads an allocation audit record (from Postgres by id, or from a JSON
file as returned by GET /experiments/{id}/allocations), reruns the Monte
Carlo simulation with the recorded posteriors, seed and sample count, and
compares the result against the recorded percentages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := loadRecord(cmd.Context(), allocationID, auditFile)
			if err != nil {
				return err
			}

			replayed, err := bandit.Replay(&rec.Audit)
			if err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}

			fmt.Printf("=== Replay %s ===\n", rec.ID)
			fmt.Printf("Algorithm:  %s %s\n", rec.Audit.Algorithm, rec.Audit.AlgorithmVersion)
			fmt.Printf("Target:     %s\n", rec.Audit.Target)
			fmt.Printf("Window:     %d days\n", rec.Audit.WindowDays)
			fmt.Printf("Seed:       %d\n", rec.Audit.Seed)
			fmt.Printf("Samples:    %d\n", rec.Audit.Samples)
			fmt.Printf("\n")

			mismatches := 0
			for i, v := range rec.Audit.Variants {
				match := "ok"
				if replayed[i] != v.AllocationPct {
					match = fmt.Sprintf("MISMATCH (recomputed %.6f)", replayed[i])
					mismatches++
				}
				fmt.Printf("  %-36s %8.4f%%  %s\n", v.VariantID, v.AllocationPct, match)
			}

			if mismatches > 0 {
				return fmt.Errorf("%d of %d variants did not reproduce", mismatches, len(rec.Audit.Variants))
			}
			fmt.Printf("\nAll %d variants reproduced bit-identically.\n", len(rec.Audit.Variants))
			return nil
		},
	}

	cmd.Flags().StringVar(&allocationID, "id", "", "Allocation record id (requires --postgres-conn)")
	cmd.Flags().StringVar(&auditFile, "file", "", "JSON file containing one allocation record")

	return cmd
}

func loadRecord(ctx context.Context, id, file string) (*store.AllocationRecord, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		var rec store.AllocationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		return &rec, nil

	case id != "":
		if postgresConn == "" {
			return nil, fmt.Errorf("--id requires --postgres-conn")
		}
		pg, err := store.NewPostgres(ctx, postgresConn)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		return pg.Get(ctx, id)

	default:
		return nil, fmt.Errorf("one of --id or --file is required")
	}
}

// simulateCmd runs the engine on counts given as flags
func simulateCmd() *cobra.Command {
	var (
		target     string
		seed       uint64
		samples    int
		minImpr    int
		variantDef []string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a what-if allocation from counts given on the command line",
		Long: `Runs one allocation over synthetic counters without touching any store.
Variants are given as name:impressions:clicks[:sessions:revenue]; the first
variant is treated as control.

Example:
  mabctl simulate --target ctr --seed 42 \
    --variant control:10000:320 --variant blue:10000:420`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(variantDef) < 2 {
				return fmt.Errorf("at least 2 --variant flags are required")
			}

			metrics := make([]bandit.VariantMetrics, 0, len(variantDef))
			for i, def := range variantDef {
				m, err := parseVariant(def, i == 0)
				if err != nil {
					return err
				}
				metrics = append(metrics, m)
			}

			cfg := bandit.DefaultConfig()
			if samples > 0 {
				cfg.Samples = samples
			}
			if minImpr >= 0 {
				cfg.MinImpressions = uint64(minImpr)
			}
			engine, err := bandit.NewEngine(cfg)
			if err != nil {
				return err
			}

			req := bandit.Request{
				ExperimentID: "simulate",
				Target:       bandit.OptimizationTarget(target),
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = seed
				req.HasSeed = true
			}

			result, audit, err := engine.Allocate(cmd.Context(), staticProvider(metrics), req)
			if err != nil {
				return err
			}

			fmt.Printf("=== Simulation ===\n")
			fmt.Printf("Target:   %s\n", audit.Target)
			fmt.Printf("Seed:     %d\n", audit.Seed)
			fmt.Printf("Samples:  %d\n", audit.Samples)
			fmt.Printf("Fallback: %v\n", result.UsedFallback)
			fmt.Printf("\n")
			fmt.Printf("  %-16s %10s %10s %10s %12s\n", "VARIANT", "SHARE", "CTR", "CI", "REVENUE")
			for _, v := range result.Variants {
				name := v.VariantName
				if v.IsControl {
					name += " *"
				}
				fmt.Printf("  %-16s %9.4f%% %10.4f [%.4f,%.4f] %10s\n",
					name, v.AllocationPct, v.CTR, v.CTRLower, v.CTRUpper, v.Revenue)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "ctr", "Optimization target (ctr, rps, rpm)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "RNG seed (random when omitted)")
	cmd.Flags().IntVar(&samples, "samples", 0, "Monte Carlo sample count (default engine setting)")
	cmd.Flags().IntVar(&minImpr, "min-impressions", -1, "Minimum impressions before the posterior leaves the prior")
	cmd.Flags().StringArrayVar(&variantDef, "variant", nil, "Variant as name:impressions:clicks[:sessions:revenue] (repeatable)")

	return cmd
}

func parseVariant(def string, isControl bool) (bandit.VariantMetrics, error) {
	parts := strings.Split(def, ":")
	if len(parts) < 3 || len(parts) > 5 {
		return bandit.VariantMetrics{}, fmt.Errorf("variant %q: want name:impressions:clicks[:sessions:revenue]", def)
	}

	m := bandit.VariantMetrics{
		VariantID:   parts[0],
		VariantName: parts[0],
		IsControl:   isControl,
		Revenue:     decimal.Zero,
	}

	impressions, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return m, fmt.Errorf("variant %q: bad impressions: %w", def, err)
	}
	clicks, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return m, fmt.Errorf("variant %q: bad clicks: %w", def, err)
	}
	m.Impressions, m.Clicks = impressions, clicks

	if len(parts) >= 4 {
		sessions, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return m, fmt.Errorf("variant %q: bad sessions: %w", def, err)
		}
		m.Sessions = sessions
	}
	if len(parts) == 5 {
		revenue, err := decimal.NewFromString(parts[4])
		if err != nil {
			return m, fmt.Errorf("variant %q: bad revenue: %w", def, err)
		}
		m.Revenue = revenue
	}

	return m, nil
}

// staticProvider serves the same counters for every window.
type staticProvider []bandit.VariantMetrics

func (p staticProvider) AggregateMetrics(_ context.Context, _ string, _ int) ([]bandit.VariantMetrics, error) {
	return p, nil
}

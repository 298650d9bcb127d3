// Command stress-sim runs the tranched pool's parameter-sweep stress
// simulator (spec §4.G) against the default grid and writes the heatmap
// (JSON and CSV), worst-seed replay, audit manifest and invariant report to
// an output directory. The stress-resimulation report is written only when
// -baseline names a prior run's directory; no resimulation-output file is
// written.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tranchepool/riskplane/internal/logging"
	"github.com/tranchepool/riskplane/risksim"
)

func main() {
	var (
		outDir       string
		logFile      string
		pathsPerCfg  int
		baseSeed     uint
		workers      int
		worstSeedTop int
		sensitivity  string
		profile      string
		baselineDir  string
	)
	flag.StringVar(&outDir, "out", "stress-sim-output", "directory to write sweep artifacts into")
	flag.StringVar(&logFile, "log-file", "", "optional path to a rotated log file (in addition to stdout)")
	flag.IntVar(&pathsPerCfg, "paths", 1000, "Monte-Carlo paths simulated per configuration")
	flag.UintVar(&baseSeed, "seed", 1, "base seed mixed into every per-path seed")
	flag.IntVar(&workers, "workers", 8, "parallel simulation workers")
	flag.IntVar(&worstSeedTop, "worst-top", 25, "size of the retained worst-seed set")
	flag.StringVar(&sensitivity, "sensitivity", "medium", "withdrawal sensitivity: low|medium|high")
	flag.StringVar(&profile, "profile", "base", "response profile: fast|base|slow")
	flag.StringVar(&baselineDir, "baseline", "", "optional prior run's output directory, to compare drift against")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RISKPLANE_ENV"))
	var logger = logging.Setup("stress-sim", env)
	if logFile != "" {
		logger = logging.SetupFile("stress-sim", env, logFile)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Error("create output directory", "error", err)
		os.Exit(1)
	}

	grid := risksim.DefaultGrid()
	configs := risksim.BuildGrid(grid, parseSensitivity(sensitivity), parseProfile(profile))
	logger.Info("built parameter grid", "configurations", len(configs))

	manifest, aggregates, worst, err := risksim.Run(context.Background(), risksim.RunOptions{
		Configs:      configs,
		PathsPerCfg:  pathsPerCfg,
		BaseSeed:     uint32(baseSeed),
		WorstSeedTop: worstSeedTop,
		Workers:      workers,
	})
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("run complete", "run_id", manifest.RunID, "configurations", len(aggregates))

	if err := risksim.WriteHeatmapJSON(outDir, aggregates); err != nil {
		logger.Error("write heatmap json", "error", err)
		os.Exit(1)
	}
	if err := risksim.WriteHeatmapCSV(outDir, aggregates); err != nil {
		logger.Error("write heatmap csv", "error", err)
		os.Exit(1)
	}
	if err := risksim.WriteWorstSeedReplay(outDir, worst); err != nil {
		logger.Error("write worst seed replay", "error", err)
		os.Exit(1)
	}
	if err := risksim.WriteAuditManifest(outDir, manifest, aggregates, worst); err != nil {
		logger.Error("write audit manifest", "error", err)
		os.Exit(1)
	}
	if err := risksim.WriteInvariantReport(outDir, aggregates); err != nil {
		logger.Error("write invariant report", "error", err)
		os.Exit(1)
	}

	if baselineDir == "" {
		logger.Info("no baseline supplied, skipping resimulation report")
		return
	}
	baselineAggregates, baselineManifest, err := loadBaseline(baselineDir)
	if err != nil {
		logger.Error("load baseline", "error", err)
		os.Exit(1)
	}
	passed, err := risksim.WriteStressResimulationReport(outDir, manifest.RunID, baselineManifest.RunID, aggregates, baselineAggregates)
	if err != nil {
		logger.Error("write resimulation report", "error", err)
		os.Exit(1)
	}
	if !passed {
		logger.Error("resimulation report failed the acceptance gate")
		os.Exit(1)
	}
	logger.Info("resimulation report passed the acceptance gate")
}

func parseSensitivity(s string) risksim.WithdrawalSensitivity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return risksim.SensitivityLow
	case "high":
		return risksim.SensitivityHigh
	default:
		return risksim.SensitivityMedium
	}
}

func parseProfile(s string) risksim.ResponseProfile {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return risksim.ProfileFast
	case "slow":
		return risksim.ProfileSlow
	default:
		return risksim.ProfileBase
	}
}

func loadBaseline(dir string) ([]risksim.ConfigAggregate, risksim.RunManifest, error) {
	doc, err := risksim.ReadHeatmapJSON(filepath.Join(dir, risksim.FileHeatmapJSON))
	if err != nil {
		return nil, risksim.RunManifest{}, fmt.Errorf("read baseline heatmap: %w", err)
	}
	manifest, err := risksim.ReadAuditManifest(filepath.Join(dir, risksim.FileAuditManifest))
	if err != nil {
		return nil, risksim.RunManifest{}, fmt.Errorf("read baseline manifest: %w", err)
	}
	return doc, manifest, nil
}

package risksim

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Artifact filenames are fixed by spec §6 so the release pipeline that
// gates on them never has to discover names at runtime.
const (
	FileHeatmapJSON        = "tranche-parameter-sweep-heatmap.json"
	FileHeatmapCSV         = "tranche-parameter-sweep-heatmap.csv"
	FileResimulationOutput = "resimulation-output.json"
	FileDeterministicTop25 = "deterministic-replay-top25.json"
	FileAuditManifest      = "audit-manifest.json"
	FileInvariantReport    = "runtime-invariant-verification-report.md"
)

// StressResimulationReportName builds the baseline-comparison report's
// filename, which embeds the current and baseline run IDs (spec §6:
// "stress-resimulation-report-<current>-vs-<baseline>.md").
func StressResimulationReportName(currentRunID, baselineRunID string) string {
	return fmt.Sprintf("stress-resimulation-report-%s-vs-%s.md", currentRunID, baselineRunID)
}

// heatmapDocument is the full aggregate grid document spec §6 describes:
// "records + heatmap + contours + invariants". Contours are left to the
// consumer of the JSON (a plotting tool) to derive from the record grid;
// this module's obligation is the record set and the summed invariant
// counters it's derived from.
type heatmapDocument struct {
	Records    []ConfigAggregate `json:"records"`
	Invariants invariantTotals   `json:"invariants"`
}

type invariantTotals struct {
	WaterfallViolations              int `json:"waterfallViolationCount"`
	NegativeNavCount                 int `json:"negativeNavCount"`
	SeniorImpairmentBundleViolations int `json:"seniorImpairmentBundleViolationCount"`
	PauseStateMachineViolations      int `json:"pauseStateMachineViolationCount"`
}

func sumInvariants(aggregates []ConfigAggregate) invariantTotals {
	var totals invariantTotals
	for _, agg := range aggregates {
		totals.WaterfallViolations += agg.WaterfallViolationCount
		totals.NegativeNavCount += agg.NegativeNavCount
		totals.SeniorImpairmentBundleViolations += agg.SeniorImpairmentBundleViolationCount
		totals.PauseStateMachineViolations += agg.PauseStateMachineViolationCount
	}
	return totals
}

// WriteHeatmapJSON serializes the full aggregate grid to FileHeatmapJSON
// under root.
func WriteHeatmapJSON(root string, aggregates []ConfigAggregate) error {
	doc := heatmapDocument{Records: aggregates, Invariants: sumInvariants(aggregates)}
	return writeJSON(filepath.Join(root, FileHeatmapJSON), doc)
}

// csvHeader is exactly the column list spec §6 mandates, in order.
var csvHeader = []string{
	"seniorAllocationBps", "juniorCoverageFloorBps", "recoveryRate",
	"withdrawalSensitivity", "correlationLevel", "seniorImpairmentProbability",
	"juniorDepletionProbability", "breakerActivationFrequency", "avgBreakerDuration",
	"avgTimeToStabilization", "avgJuniorNAVVolatility", "avgSeniorNAVVolatility",
	"capitalEfficiencyScore", "waterfallViolationCount", "negativeNavCount",
}

// WriteHeatmapCSV serializes the same records as WriteHeatmapJSON as rows,
// with the exact column order spec §6 mandates.
func WriteHeatmapCSV(root string, aggregates []ConfigAggregate) error {
	file, err := os.Create(filepath.Join(root, FileHeatmapCSV))
	if err != nil {
		return fmt.Errorf("risksim: create heatmap csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("risksim: write csv header: %w", err)
	}
	for _, agg := range aggregates {
		row := []string{
			strconv.FormatUint(agg.Config.SeniorAllocationBps, 10),
			strconv.FormatUint(agg.Config.JuniorCoverageFloorBps, 10),
			formatFloat(agg.Config.RecoveryRate),
			string(agg.Config.WithdrawalSensitivity),
			string(labelCorrelation(agg.Config.CorrelationStrength)),
			formatFloat(agg.SeniorImpairmentProbability),
			formatFloat(agg.JuniorDepletionProbability),
			formatFloat(agg.BreakerActivationFrequency),
			formatFloat(agg.AvgBreakerDurationMinutes),
			formatFloat(agg.AvgTimeToStabilizationMinutes),
			formatFloat(agg.JuniorNAVVolatility),
			formatFloat(agg.SeniorNAVVolatility),
			formatFloat(agg.CapitalEfficiencyScore),
			strconv.Itoa(agg.WaterfallViolationCount),
			strconv.Itoa(agg.NegativeNavCount),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("risksim: write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 10, 64)
}

// WriteWorstSeedReplay serializes the top-K worst-seed records to
// FileDeterministicTop25, so any single worst path can be re-simulated via
// SimulateConfigurationSeed(cfg-by-ConfigID-lookup, rec.Seed) bit-identically.
func WriteWorstSeedReplay(root string, worst []PathRecord) error {
	return writeJSON(filepath.Join(root, FileDeterministicTop25), struct {
		Records []PathRecord `json:"records"`
	}{Records: worst})
}

// WriteResimulationOutput writes the raw per-path output for an ad hoc
// resimulation of a specific (config, seed) set, distinct from the full
// grid's FileHeatmapJSON.
func WriteResimulationOutput(root string, records []PathRecord) error {
	return writeJSON(filepath.Join(root, FileResimulationOutput), struct {
		Records []PathRecord `json:"records"`
	}{Records: records})
}

// WriteAuditManifest finalizes manifest's OutputHash from the serialized
// aggregates and worst-seed set, then writes it to FileAuditManifest.
func WriteAuditManifest(root string, manifest RunManifest, aggregates []ConfigAggregate, worst []PathRecord) error {
	encoded, err := json.Marshal(struct {
		Aggregates []ConfigAggregate `json:"aggregates"`
		Worst      []PathRecord      `json:"worst"`
	}{Aggregates: aggregates, Worst: worst})
	if err != nil {
		return fmt.Errorf("risksim: encode manifest payload: %w", err)
	}
	sum := sha1.Sum(encoded)
	manifest.OutputHash = fmt.Sprintf("%x", sum)
	return writeJSON(filepath.Join(root, FileAuditManifest), manifest)
}

// WriteInvariantReport renders a human-readable markdown summary of every
// invariant counter the run observed (spec §6: "a human-readable invariant
// report (markdown)").
func WriteInvariantReport(root string, aggregates []ConfigAggregate) error {
	totals := sumInvariants(aggregates)
	var breaches []string
	for _, agg := range aggregates {
		if agg.WaterfallViolationCount > 0 || agg.NegativeNavCount > 0 ||
			agg.SeniorImpairmentBundleViolationCount > 0 || agg.PauseStateMachineViolationCount > 0 {
			breaches = append(breaches, fmt.Sprintf("- config %s: %d waterfall violations, %d negative-NAV paths, %d senior-impairment-bundle violations, %d pause-state-machine violations",
				agg.ConfigID, agg.WaterfallViolationCount, agg.NegativeNavCount,
				agg.SeniorImpairmentBundleViolationCount, agg.PauseStateMachineViolationCount))
		}
	}

	content := fmt.Sprintf("# Runtime invariant verification\n\n"+
		"Total waterfall violations: %d\n\n"+
		"Total negative-NAV paths: %d\n\n"+
		"Total senior-impairment-bundle violations: %d\n\n"+
		"Total pause-state-machine violations: %d\n\n"+
		"## Breaching configurations\n\n%s\n",
		totals.WaterfallViolations, totals.NegativeNavCount,
		totals.SeniorImpairmentBundleViolations, totals.PauseStateMachineViolations, joinOrNone(breaches))

	return os.WriteFile(filepath.Join(root, FileInvariantReport), []byte(content), 0o644)
}

func joinOrNone(lines []string) string {
	if len(lines) == 0 {
		return "None."
	}
	out := ""
	for _, line := range lines {
		out += line + "\n"
	}
	return out
}

// WriteStressResimulationReport compares current against baseline and
// checks the acceptance gate: drift of senior-impairment probability must
// be <= +0.75 percentage points, and every invariant counter must be zero
// (spec §4.G "Acceptance gate").
func WriteStressResimulationReport(root string, currentRunID, baselineRunID string, current, baseline []ConfigAggregate) (passed bool, err error) {
	byConfig := make(map[string]ConfigAggregate, len(baseline))
	for _, agg := range baseline {
		byConfig[agg.ConfigID] = agg
	}

	const maxDriftPp = 0.75
	passed = true
	var lines []string
	totals := sumInvariants(current)
	if totals.WaterfallViolations > 0 || totals.NegativeNavCount > 0 ||
		totals.SeniorImpairmentBundleViolations > 0 || totals.PauseStateMachineViolations > 0 {
		passed = false
	}

	for _, agg := range current {
		base, ok := byConfig[agg.ConfigID]
		if !ok {
			continue
		}
		driftPp := (agg.SeniorImpairmentProbability - base.SeniorImpairmentProbability) * 100
		if driftPp > maxDriftPp {
			passed = false
		}
		lines = append(lines, fmt.Sprintf("- config %s: drift %.4fpp (current %.4f%%, baseline %.4f%%)",
			agg.ConfigID, driftPp, agg.SeniorImpairmentProbability*100, base.SeniorImpairmentProbability*100))
	}

	verdict := "PASS"
	if !passed {
		verdict = "FAIL"
	}
	content := fmt.Sprintf("# Stress resimulation: %s vs %s\n\nVerdict: %s\n\nWaterfall violations: %d\n\nNegative-NAV paths: %d\n\nSenior-impairment-bundle violations: %d\n\nPause-state-machine violations: %d\n\n## Per-configuration drift\n\n%s\n",
		currentRunID, baselineRunID, verdict, totals.WaterfallViolations, totals.NegativeNavCount,
		totals.SeniorImpairmentBundleViolations, totals.PauseStateMachineViolations, joinOrNone(lines))

	name := StressResimulationReportName(currentRunID, baselineRunID)
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("risksim: write resimulation report: %w", err)
	}
	return passed, nil
}

// ReadHeatmapJSON loads a prior run's FileHeatmapJSON, for comparing a
// current run's aggregates against a pinned baseline (spec §4.G
// "Acceptance gate").
func ReadHeatmapJSON(path string) ([]ConfigAggregate, error) {
	var doc heatmapDocument
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	return doc.Records, nil
}

// ReadAuditManifest loads a prior run's FileAuditManifest, to recover its
// RunID for a resimulation report's filename and body.
func ReadAuditManifest(path string) (RunManifest, error) {
	var manifest RunManifest
	if err := readJSON(path, &manifest); err != nil {
		return RunManifest{}, err
	}
	return manifest, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("risksim: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("risksim: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("risksim: encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("risksim: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

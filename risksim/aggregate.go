package risksim

import (
	"container/heap"
	"math"
)

// Aggregate folds N PathRecords for a single configuration into the
// per-configuration statistics spec §4.G's "Aggregation per configuration"
// enumerates: mean/probability/max over paths.
func Aggregate(cfg Config, records []PathRecord) ConfigAggregate {
	agg := ConfigAggregate{Config: cfg, ConfigID: ConfigID(cfg), PathCount: len(records)}
	if len(records) == 0 {
		return agg
	}

	var (
		seniorImpairedCount int
		juniorDepletedCount int
		breakerActivations  int
		breakerDurationSum  float64
		stabilizationSum    float64
		juniorFinals        []float64
		seniorFinals        []float64
		capitalEfficiencySum float64
	)

	junior0, senior0 := startingTranches(cfg)

	for _, rec := range records {
		if rec.SeniorImpaired {
			seniorImpairedCount++
		}
		if rec.JuniorFinal <= 0 {
			juniorDepletedCount++
		}
		if rec.JuniorImpaired || rec.SeniorImpaired {
			breakerActivations++
			breakerDurationSum += float64(rec.RecoveryLagMinutes)
			stabilizationSum += float64(rec.RecoveryLagMinutes)
		}
		juniorFinals = append(juniorFinals, rec.JuniorFinal)
		seniorFinals = append(seniorFinals, rec.SeniorFinal)

		deployed := junior0 + senior0
		if deployed > 0 {
			capitalEfficiencySum += 1 - (rec.NetLoss-rec.JuniorRecovered-rec.SeniorRecovered)/deployed
		}

		if rec.WaterfallResidualNonzero {
			agg.WaterfallViolationCount++
		}
		if rec.NegativeNAV {
			agg.NegativeNavCount++
		}
		if rec.SeniorImpairmentBundleViolation {
			agg.SeniorImpairmentBundleViolationCount++
		}
		if rec.PauseStateMachineViolation {
			agg.PauseStateMachineViolationCount++
		}
	}

	n := float64(len(records))
	agg.SeniorImpairmentProbability = float64(seniorImpairedCount) / n
	agg.JuniorDepletionProbability = float64(juniorDepletedCount) / n
	agg.BreakerActivationFrequency = float64(breakerActivations) / n
	agg.CapitalEfficiencyScore = capitalEfficiencySum / n
	if breakerActivations > 0 {
		agg.AvgBreakerDurationMinutes = breakerDurationSum / float64(breakerActivations)
		agg.AvgTimeToStabilizationMinutes = stabilizationSum / float64(breakerActivations)
	}
	agg.JuniorNAVVolatility = stddev(juniorFinals)
	agg.SeniorNAVVolatility = stddev(seniorFinals)

	return agg
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// worstSeedItem is one entry in the top-K worst-seed min-heap keyed on
// severity (spec §4.G "Top-K worst seeds").
type worstSeedItem struct {
	Record PathRecord
}

type worstSeedHeap []worstSeedItem

func (h worstSeedHeap) Len() int            { return len(h) }
func (h worstSeedHeap) Less(i, j int) bool  { return h[i].Record.Severity < h[j].Record.Severity }
func (h worstSeedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *worstSeedHeap) Push(x interface{}) { *h = append(*h, x.(worstSeedItem)) }
func (h *worstSeedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// WorstSeedTracker maintains the K most severe PathRecords seen so far
// using a running min-heap, so the simulator never needs to hold every
// path in memory at once (spec §4.G step 6 + top-K worst seeds).
type WorstSeedTracker struct {
	k    int
	heap worstSeedHeap
}

// NewWorstSeedTracker constructs a tracker retaining the k most severe
// records observed via Offer. Spec §4.G fixes k at 25.
func NewWorstSeedTracker(k int) *WorstSeedTracker {
	return &WorstSeedTracker{k: k}
}

// Offer considers rec for inclusion in the worst-seed set.
func (t *WorstSeedTracker) Offer(rec PathRecord) {
	if t.k <= 0 {
		return
	}
	if len(t.heap) < t.k {
		heap.Push(&t.heap, worstSeedItem{Record: rec})
		return
	}
	if len(t.heap) > 0 && rec.Severity > t.heap[0].Record.Severity {
		heap.Pop(&t.heap)
		heap.Push(&t.heap, worstSeedItem{Record: rec})
	}
}

// Records returns the retained worst-seed records sorted from most to
// least severe.
func (t *WorstSeedTracker) Records() []PathRecord {
	items := make(worstSeedHeap, len(t.heap))
	copy(items, t.heap)
	out := make([]PathRecord, 0, len(items))
	for len(items) > 0 {
		item := heap.Pop(&items).(worstSeedItem)
		out = append(out, item.Record)
	}
	// heap.Pop drains smallest-first; reverse for most-severe-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

package risksim

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// RunOptions parameterizes one simulator invocation (spec §4.G: "a
// parameter grid ... a path count N per configuration ... a base seed, and
// a batch size").
type RunOptions struct {
	Configs      []Config
	PathsPerCfg  int
	BaseSeed     uint32
	BatchSize    int
	WorstSeedTop int
	Workers      int
}

// configResult is one configuration's complete output: its aggregate and
// the worst seeds it contributed to the run-wide top-K set.
type configResult struct {
	configIndex int
	aggregate   ConfigAggregate
	worst       []PathRecord
}

// Run executes the full parameter grid, each configuration embarrassingly
// parallel across its own seeds (spec §5: "each worker owns its RNG and its
// mini-pool state; workers communicate only via a result channel"). Output
// ordering is deterministic — aggregates follow the order of opts.Configs,
// and the retained worst seeds are sorted by (ConfigID, Seed) — and does
// not depend on worker scheduling order, satisfying the ordering guarantee
// spec §5 requires even though the computation itself is concurrent.
func Run(ctx context.Context, opts RunOptions) (RunManifest, []ConfigAggregate, []PathRecord, error) {
	if opts.PathsPerCfg <= 0 {
		return RunManifest{}, nil, nil, fmt.Errorf("risksim: PathsPerCfg must be positive")
	}
	if opts.WorstSeedTop <= 0 {
		opts.WorstSeedTop = 25
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(opts.Configs)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	aggregates := make([]ConfigAggregate, len(opts.Configs))
	tracker := NewWorstSeedTracker(opts.WorstSeedTop)
	var trackerMu sync.Mutex

	for batchStart := 0; batchStart < len(opts.Configs); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(opts.Configs) {
			batchEnd = len(opts.Configs)
		}

		results := make(chan configResult, batchEnd-batchStart)
		jobs := make(chan int, batchEnd-batchStart)
		for i := batchStart; i < batchEnd; i++ {
			jobs <- i
		}
		close(jobs)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for configIndex := range jobs {
					select {
					case <-ctx.Done():
						return
					default:
					}
					cfg := opts.Configs[configIndex]
					records := simulateAllSeeds(cfg, opts.BaseSeed, opts.PathsPerCfg)
					agg := Aggregate(cfg, records)

					localTracker := NewWorstSeedTracker(opts.WorstSeedTop)
					for _, rec := range records {
						localTracker.Offer(rec)
					}
					results <- configResult{configIndex: configIndex, aggregate: agg, worst: localTracker.Records()}
				}
			}()
		}

		go func() {
			wg.Wait()
			close(results)
		}()

		for res := range results {
			aggregates[res.configIndex] = res.aggregate
			trackerMu.Lock()
			for _, rec := range res.worst {
				tracker.Offer(rec)
			}
			trackerMu.Unlock()
		}

		if ctx.Err() != nil {
			return RunManifest{}, nil, nil, ctx.Err()
		}
	}

	worst := tracker.Records()
	sort.Slice(worst, func(i, j int) bool {
		if worst[i].ConfigID != worst[j].ConfigID {
			return worst[i].ConfigID < worst[j].ConfigID
		}
		return worst[i].Seed < worst[j].Seed
	})

	manifest := RunManifest{
		RunID:           uuid.NewString(),
		CommitHash:      UnbornHeadCommit,
		ConfigGridHash:  gridHash(opts.Configs),
		GoVersion:       runtime.Version(),
		PathCountPerCfg: opts.PathsPerCfg,
		BaseSeed:        opts.BaseSeed,
		BatchSize:       batchSize,
	}
	return manifest, aggregates, worst, nil
}

// simulateAllSeeds replays every (configId, seedIndex) pair for cfg in
// order, deriving each path's seed from PathSeed so the result is
// independent of however Run's caller chooses to parallelize.
func simulateAllSeeds(cfg Config, baseSeed uint32, pathCount int) []PathRecord {
	configID := ConfigID(cfg)
	records := make([]PathRecord, pathCount)
	for i := 0; i < pathCount; i++ {
		seed := PathSeed(configID, baseSeed, uint32(i))
		rec := SimulateConfigurationSeed(cfg, seed)
		rec.SeedIndex = uint32(i)
		records[i] = rec
	}
	return records
}

// gridHash folds every configuration's identity hash into a single digest
// so the run manifest can detect a grid definition change between runs.
// Sorting the per-config IDs first makes the digest independent of the
// grid slice's iteration order.
func gridHash(configs []Config) string {
	ids := make([]string, len(configs))
	for i, cfg := range configs {
		ids[i] = ConfigID(cfg)
	}
	sort.Strings(ids)

	var h uint32 = 2166136261
	for _, id := range ids {
		for i := 0; i < len(id); i++ {
			h ^= uint32(id[i])
			h *= 16777619
		}
	}
	return fmt.Sprintf("%08x", h)
}

package store

import (
	"slices"
	"strings"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/optimizer"
	"github.com/roach88/dashopt/internal/search"
)

// Run is a recorded optimizer run.
type Run struct {
	ID             string                `json:"id"`
	Seq            int64                 `json:"seq"`
	Task           string                `json:"task"`
	Status         optimizer.Status      `json:"status"`
	MemoryRatio    float64               `json:"memory_ratio"`
	LatencyCeiling float64               `json:"latency_ceiling"`
	ServerMemory   float64               `json:"server_memory"`
	BundleHash     string                `json:"bundle_hash"`
	Diagnostics    optimizer.Diagnostics `json:"diagnostics"`
	Plans          []PlanRecord          `json:"plans"`
	Caches         []search.Cache        `json:"caches"`

	// Bundle is the canonical JSON client bundle.
	Bundle []byte `json:"-"`
}

// PlanRecord is the chosen plan of one triple, without its tree.
type PlanRecord struct {
	Key             string   `json:"key"`
	AvgLatency      float64  `json:"avg_latency"`
	UpperLatency    float64  `json:"upper_latency"`
	SwitchOnLatency float64  `json:"switch_on_latency"`
	Caches          []string `json:"caches"`
}

// RunSummary is a row of the run list.
type RunSummary struct {
	ID         string           `json:"id"`
	Seq        int64            `json:"seq"`
	Task       string           `json:"task"`
	Status     optimizer.Status `json:"status"`
	Plans      int              `json:"plans"`
	BundleHash string           `json:"bundle_hash"`
}

// NewRun builds the record of res for the task in taskDir. bundle must be
// the canonical JSON bundle exported from res. Seq is assigned on write.
func NewRun(taskDir string, res *optimizer.Result, bundle []byte) Run {
	run := Run{
		ID:             res.Diagnostics.RunID,
		Task:           taskDir,
		Status:         res.Status,
		MemoryRatio:    res.MemoryRatio,
		LatencyCeiling: res.LatencyCeiling,
		ServerMemory:   res.ServerMemory,
		BundleHash:     ir.BundleHash(bundle),
		Diagnostics:    res.Diagnostics,
		Plans:          make([]PlanRecord, 0, len(res.Plans)),
		Caches:         []search.Cache{},
		Bundle:         bundle,
	}

	seen := map[string]bool{}
	for _, p := range res.Plans {
		rec := PlanRecord{
			Key:             p.Key(),
			AvgLatency:      p.Steady.AvgLatency,
			UpperLatency:    p.Steady.UpperLatency,
			SwitchOnLatency: p.SwitchOn.UpperLatency,
			Caches:          make([]string, 0, len(p.Caches)),
		}
		for _, c := range p.Caches {
			rec.Caches = append(rec.Caches, c.Signature)
			if !seen[c.Signature] {
				seen[c.Signature] = true
				run.Caches = append(run.Caches, c)
			}
		}
		run.Plans = append(run.Plans, rec)
	}
	slices.SortFunc(run.Caches, func(a, b search.Cache) int { return strings.Compare(a.Signature, b.Signature) })
	return run
}

// Summary returns the list row of r.
func (r Run) Summary() RunSummary {
	return RunSummary{
		ID:         r.ID,
		Seq:        r.Seq,
		Task:       r.Task,
		Status:     r.Status,
		Plans:      len(r.Plans),
		BundleHash: r.BundleHash,
	}
}

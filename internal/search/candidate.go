package search

import (
	"slices"
	"strings"

	"github.com/roach88/dashopt/internal/ir"
)

// Cache describes one cache of a candidate plan.
type Cache struct {
	Signature string `json:"signature"`
	Static    bool   `json:"static"`
	AtServer  bool   `json:"at_server"`

	// Memory is the steady-state size of the cached result in bytes.
	Memory float64 `json:"size"`

	// Structure is the indented rendering of the cache subtree.
	Structure string `json:"structure"`
}

// Candidate is a physical plan that meets its interaction's latency
// budget.
type Candidate struct {
	Plan     ir.Plan
	Steady   ir.Cost
	SwitchOn ir.Cost

	// Caches lists the distinct caches of Plan sorted by signature.
	Caches []Cache

	key string
}

// Key identifies the set of caches the candidate needs. Two candidates
// with the same key compete for the same materialization decision.
func (c *Candidate) Key() string { return c.key }

// Signatures returns the distinct cache signatures of the candidate.
func (c *Candidate) Signatures() []string {
	out := make([]string, len(c.Caches))
	for i, ca := range c.Caches {
		out[i] = ca.Signature
	}
	return out
}

// Cheaper orders candidates by steady-state upper latency, then switch-on
// upper latency, then average latency.
func (c *Candidate) Cheaper(o *Candidate) bool {
	if c.Steady.UpperLatency != o.Steady.UpperLatency {
		return c.Steady.UpperLatency < o.Steady.UpperLatency
	}
	if c.SwitchOn.UpperLatency != o.SwitchOn.UpperLatency {
		return c.SwitchOn.UpperLatency < o.SwitchOn.UpperLatency
	}
	return c.Steady.AvgLatency < o.Steady.AvgLatency
}

// cacheKey renders the sorted multiset of cache signatures of p.
func cacheKey(sigs []string) string {
	sorted := slices.Clone(sigs)
	slices.Sort(sorted)
	return strings.Join(sorted, ",")
}

// Triple holds the candidates of one (interaction, view, basic plan).
type Triple struct {
	Interaction string
	View        string
	Binding     ir.Bindings
	BindingKey  string

	// Candidates are ordered by Key.
	Candidates []*Candidate

	// Explored counts every finalized plan, before the budget filter and
	// de-duplication.
	Explored int
}

// ID renders the triple as "interaction/view/binding".
func (t *Triple) ID() string {
	return t.Interaction + "/" + t.View + "/" + t.BindingKey
}

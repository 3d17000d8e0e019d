package optimizer

import (
	"math"
	"slices"
	"time"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/search"
)

// Result is the outcome of Optimize.
type Result struct {
	Status Status `json:"status"`

	// MemoryRatio is the smallest server/budget + client/budget ratio that
	// admits a plan. Set only when Status is unsatisfiable.
	MemoryRatio float64 `json:"memory_ratio,omitempty"`

	// LatencyCeiling is the worst average latency any chosen plan may have.
	LatencyCeiling float64 `json:"latency_ceiling,omitempty"`

	// ServerMemory is the server budget the plans were chosen under. It is
	// below the task's budget when the best server memory was searched.
	ServerMemory float64 `json:"server_memory"`

	// Plans holds one chosen plan per triple in search order.
	Plans []Plan `json:"plans"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// Plan is the plan chosen for one triple.
type Plan struct {
	Interaction string         `json:"interaction"`
	View        string         `json:"view"`
	Binding     string         `json:"binding"`
	Plan        ir.Plan        `json:"-"`
	Steady      ir.Cost        `json:"steady"`
	SwitchOn    ir.Cost        `json:"switch_on"`
	Caches      []search.Cache `json:"caches"`
}

// Key renders the plan's triple as "interaction/view/binding".
func (p Plan) Key() string { return p.Interaction + "/" + p.View + "/" + p.Binding }

// Bundle assembles the client bundle of the chosen plans, keyed by
// "interaction/view/binding", with the given choice values and binding
// order.
func (r *Result) Bundle(values map[string][]ir.DomainValue, tasks map[string][]ir.TaskStep) *ir.Bundle {
	b := &ir.Bundle{Plans: make(map[string]ir.Plan, len(r.Plans)), Values: values, Tasks: tasks}
	for _, p := range r.Plans {
		b.Plans[p.Key()] = p.Plan
	}
	return b
}

// Structure is a materialized cache as reported in Diagnostics.
type Structure struct {
	Signature string  `json:"signature"`
	Structure string  `json:"structure"`
	Memory    float64 `json:"size"`
	AtServer  bool    `json:"at_server"`
}

// Diagnostics describes how a result was reached.
type Diagnostics struct {
	RunID string `json:"run_id"`

	Triples          int `json:"triples"`
	Candidates       int `json:"candidates"`
	ExploredPlans    int `json:"explored_plans"`
	CandidateStatic  int `json:"candidate_static_caches"`
	CandidateDynamic int `json:"candidate_dynamic_caches"`

	StaticStructures  []Structure `json:"static_structures"`
	DynamicStructures []Structure `json:"dynamic_structures"`

	// CacheSignatures lists every materialized signature once, sorted.
	CacheSignatures []string `json:"cache_signatures"`

	ServerStaticMemory  float64 `json:"server_static_memory"`
	ClientStaticMemory  float64 `json:"client_static_memory"`
	ServerDynamicMemory float64 `json:"server_dynamic_memory"`
	ClientDynamicMemory float64 `json:"client_dynamic_memory"`
	TotalServerMemory   float64 `json:"total_server_memory"`
	TotalClientMemory   float64 `json:"total_client_memory"`

	MaxAvgLatency      float64            `json:"max_avg_latency"`
	InteractionLatency map[string]float64 `json:"interaction_latency"`

	SolverCalls    int           `json:"solver_calls"`
	SolverTimeouts int           `json:"solver_timeouts"`
	SearchTime     time.Duration `json:"search_time"`
	SolveTime      time.Duration `json:"solve_time"`
}

// result assembles the Result of out. A nil outcome is a failure.
func (r *run) result(out *outcome) *Result {
	res := &Result{Status: StatusFailed, Plans: []Plan{}}
	d := &res.Diagnostics
	d.Triples = len(r.triples)
	d.SolverCalls, d.SolverTimeouts = r.calls, r.timeouts
	d.InteractionLatency = map[string]float64{}
	d.StaticStructures, d.DynamicStructures, d.CacheSignatures = []Structure{}, []Structure{}, []string{}

	static, dynamic := map[string]bool{}, map[string]bool{}
	for _, t := range r.triples {
		d.Candidates += len(t.Candidates)
		d.ExploredPlans += t.Explored
		for _, c := range t.Candidates {
			for _, ca := range c.Caches {
				if ca.Static {
					static[ca.Signature] = true
				} else {
					dynamic[ca.Signature] = true
				}
			}
		}
	}
	d.CandidateStatic, d.CandidateDynamic = len(static), len(dynamic)

	if out == nil {
		return res
	}
	res.Status = out.status
	res.LatencyCeiling = out.ceiling
	res.ServerMemory = out.server
	if out.status == StatusUnsatisfiable {
		res.MemoryRatio = out.ratio
	}

	materialized := map[string]bool{}
	for _, sig := range out.problem.Materialized(out.solution.Selected) {
		materialized[sig] = true
	}
	for _, t := range r.triples {
		if c := choose(t, out.ceiling, materialized); c != nil {
			res.Plans = append(res.Plans, Plan{
				Interaction: t.Interaction,
				View:        t.View,
				Binding:     t.BindingKey,
				Plan:        c.Plan,
				Steady:      c.Steady,
				SwitchOn:    c.SwitchOn,
				Caches:      c.Caches,
			})
		}
	}
	r.usedStructures(res)
	return res
}

// choose picks the cheapest candidate of t within the ceiling whose caches
// are all materialized.
func choose(t *search.Triple, ceiling float64, materialized map[string]bool) *search.Candidate {
	var best *search.Candidate
	for _, c := range t.Candidates {
		if c.Steady.AvgLatency > ceiling {
			continue
		}
		ok := true
		for _, ca := range c.Caches {
			if !materialized[ca.Signature] {
				ok = false
				break
			}
		}
		if ok && (best == nil || c.Cheaper(best)) {
			best = c
		}
	}
	return best
}

// usedStructures fills the memory and latency diagnostics from the chosen
// plans. Dynamic memory is charged per interaction, the largest one
// counting.
func (r *run) usedStructures(res *Result) {
	d := &res.Diagnostics
	signatures := map[string]bool{}
	staticSeen := map[string]bool{}
	dynamicByIact := map[string]map[string]search.Cache{}
	var iacts []string

	for _, p := range res.Plans {
		d.InteractionLatency[p.Interaction] = math.Max(d.InteractionLatency[p.Interaction], p.Steady.AvgLatency)
		d.MaxAvgLatency = math.Max(d.MaxAvgLatency, p.Steady.AvgLatency)
		if _, ok := dynamicByIact[p.Interaction]; !ok {
			dynamicByIact[p.Interaction] = map[string]search.Cache{}
			iacts = append(iacts, p.Interaction)
		}
		for _, ca := range p.Caches {
			signatures[ca.Signature] = true
			if !ca.Static {
				dynamicByIact[p.Interaction][ca.Signature] = ca
				continue
			}
			if staticSeen[ca.Signature] {
				continue
			}
			staticSeen[ca.Signature] = true
			d.StaticStructures = append(d.StaticStructures, structure(ca))
			if ca.AtServer {
				d.ServerStaticMemory += ca.Memory
			} else {
				d.ClientStaticMemory += ca.Memory
			}
		}
	}

	for _, name := range iacts {
		caches := dynamicByIact[name]
		sigs := make([]string, 0, len(caches))
		for sig := range caches {
			sigs = append(sigs, sig)
		}
		slices.Sort(sigs)
		var server, client float64
		for _, sig := range sigs {
			ca := caches[sig]
			d.DynamicStructures = append(d.DynamicStructures, structure(ca))
			if ca.AtServer {
				server += ca.Memory
			} else {
				client += ca.Memory
			}
		}
		d.ServerDynamicMemory = math.Max(d.ServerDynamicMemory, server)
		d.ClientDynamicMemory = math.Max(d.ClientDynamicMemory, client)
	}

	d.TotalServerMemory = d.ServerStaticMemory + d.ServerDynamicMemory
	d.TotalClientMemory = d.ClientStaticMemory + d.ClientDynamicMemory
	for sig := range signatures {
		d.CacheSignatures = append(d.CacheSignatures, sig)
	}
	slices.Sort(d.CacheSignatures)
}

func structure(ca search.Cache) Structure {
	return Structure{Signature: ca.Signature, Structure: ca.Structure, Memory: ca.Memory, AtServer: ca.AtServer}
}

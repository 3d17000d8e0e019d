// Package solver decides which caches to materialize.
//
// A Problem has one boolean per distinct cache signature and one group per
// searched triple. A group is satisfied when every cache of at least one of
// its candidates is materialized. The materialized caches must fit the
// memory bound: static caches are held for the whole session, dynamic
// caches only while their interaction runs, so each side is charged
// static + max over triples of dynamic.
//
// Solvers implement the Solver interface. BranchAndBound is the default.
package solver

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/search"
)

// Structure is one cache a solver may materialize.
type Structure struct {
	Signature string
	Static    bool
	AtServer  bool
	Memory    float64
}

// Option is one candidate of a group.
type Option struct {
	// Candidate indexes the triple's candidate list.
	Candidate int

	// Structures indexes Problem.Structures, sorted and distinct.
	Structures []int
}

// Group is the set of admissible candidates of one triple.
type Group struct {
	Triple  string
	Options []Option

	// dynamic lists the dynamic structures of all options, distinct.
	dynamic []int
}

// Bound limits the memory of the materialized caches.
//
// With Ratio zero the bound is absolute: (static + max dynamic) × Alpha
// must not exceed Budget on either side. With Ratio positive the combined
// usage server/Budget.Server + client/Budget.Client must stay below Ratio.
type Bound struct {
	Budget ir.Memory
	Alpha  float64
	Ratio  float64
}

func (b Bound) String() string {
	if b.Ratio > 0 {
		return fmt.Sprintf("ratio<%g of %s", b.Ratio, b.Budget)
	}
	return fmt.Sprintf("%s alpha=%g", b.Budget, b.Alpha)
}

// Fits reports whether usage satisfies the bound.
func (b Bound) Fits(usage ir.Memory) bool {
	if b.Ratio > 0 {
		return share(usage.Server, b.Budget.Server)+share(usage.Client, b.Budget.Client) < b.Ratio
	}
	alpha := b.Alpha
	if alpha <= 0 {
		alpha = 1
	}
	return usage.Server*alpha <= b.Budget.Server && usage.Client*alpha <= b.Budget.Client
}

// share is used/budget. An empty budget admits nothing but zero usage.
func share(used, budget float64) float64 {
	if budget > 0 {
		return used / budget
	}
	if used > 0 {
		return math.Inf(1)
	}
	return 0
}

// Problem is the selection problem handed to a Solver.
type Problem struct {
	Structures []Structure
	Groups     []Group
	Bound      Bound
}

// Encode builds the problem for triples. Candidates whose steady-state
// average latency reaches ceiling are left out; pass math.Inf(1) to keep
// them all. A triple left without candidates keeps an empty group, which
// makes the problem infeasible.
//
// Each signature takes its memory and side from its first occurrence.
func Encode(triples []*search.Triple, ceiling float64, bound Bound) *Problem {
	p := &Problem{Bound: bound}
	index := map[string]int{}

	for _, t := range triples {
		g := Group{Triple: t.ID()}
		dyn := map[int]bool{}
		for ci, c := range t.Candidates {
			if c.Steady.AvgLatency >= ceiling {
				continue
			}
			opt := Option{Candidate: ci}
			for _, ca := range c.Caches {
				si, ok := index[ca.Signature]
				if !ok {
					si = len(p.Structures)
					index[ca.Signature] = si
					p.Structures = append(p.Structures, Structure{
						Signature: ca.Signature,
						Static:    ca.Static,
						AtServer:  ca.AtServer,
						Memory:    ca.Memory,
					})
				}
				opt.Structures = append(opt.Structures, si)
				if !p.Structures[si].Static {
					dyn[si] = true
				}
			}
			slices.Sort(opt.Structures)
			opt.Structures = slices.Compact(opt.Structures)
			g.Options = append(g.Options, opt)
		}
		for si := range dyn {
			g.dynamic = append(g.dynamic, si)
		}
		slices.Sort(g.dynamic)
		p.Groups = append(p.Groups, g)
	}
	return p
}

// Usage is the memory charged for materializing selected.
func (p *Problem) Usage(selected []bool) ir.Memory {
	var static, dynamic ir.Memory
	for i, s := range p.Structures {
		if selected[i] && s.Static {
			static = static.Add(side(s))
		}
	}
	for _, g := range p.Groups {
		var m ir.Memory
		for _, si := range g.dynamic {
			if selected[si] {
				m = m.Add(side(p.Structures[si]))
			}
		}
		dynamic.Server = math.Max(dynamic.Server, m.Server)
		dynamic.Client = math.Max(dynamic.Client, m.Client)
	}
	return static.Add(dynamic)
}

func side(s Structure) ir.Memory {
	if s.AtServer {
		return ir.Memory{Server: s.Memory}
	}
	return ir.Memory{Client: s.Memory}
}

// Satisfied reports whether option o of group g only uses selected
// structures.
func (p *Problem) Satisfied(g, o int, selected []bool) bool {
	for _, si := range p.Groups[g].Options[o].Structures {
		if !selected[si] {
			return false
		}
	}
	return true
}

// Verify checks that selected satisfies every group and the bound.
func (p *Problem) Verify(selected []bool) error {
	if len(selected) != len(p.Structures) {
		return fmt.Errorf("solver: selection has %d entries, problem has %d structures", len(selected), len(p.Structures))
	}
	for gi, g := range p.Groups {
		ok := false
		for oi := range g.Options {
			if p.Satisfied(gi, oi, selected) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("solver: no candidate of %s is materialized", g.Triple)
		}
	}
	if u := p.Usage(selected); !p.Bound.Fits(u) {
		return fmt.Errorf("solver: usage %s exceeds %s", u, p.Bound)
	}
	return nil
}

// Materialized lists the signatures of the selected structures, sorted.
func (p *Problem) Materialized(selected []bool) []string {
	var out []string
	for i, s := range p.Structures {
		if selected[i] {
			out = append(out, s.Signature)
		}
	}
	slices.Sort(out)
	return out
}

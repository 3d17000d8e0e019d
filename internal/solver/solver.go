package solver

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"

	"github.com/roach88/dashopt/internal/ir"
)

// Status is the outcome of a solve.
type Status int

const (
	// Unknown means the solver stopped before deciding, usually on a
	// deadline.
	Unknown Status = iota
	Sat
	Unsat
)

func (s Status) String() string {
	switch s {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Solution is a solver's answer. Selected and Choices are set only when
// Status is Sat.
type Solution struct {
	Status Status

	// Selected marks the materialized structures.
	Selected []bool

	// Choices holds, per group, the index of an option whose structures
	// are all selected.
	Choices []int

	// Nodes counts the search nodes visited.
	Nodes int
}

// Solver decides a Problem.
//
// Solve returns Unknown with a nil error when ctx expires first. Errors are
// reserved for malformed problems.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (Solution, error)
}

// BranchAndBound is an exact depth-first search choosing one option per
// group, fewest options first. Memory only grows as structures are added,
// so a branch is cut as soon as the partial selection breaks the bound.
// An LP relaxation solved first proves most infeasible problems without
// searching.
type BranchAndBound struct {
	// SkipRelaxation disables the LP pre-check.
	SkipRelaxation bool

	Logger *slog.Logger
}

// Solve implements Solver.
func (b *BranchAndBound) Solve(ctx context.Context, p *Problem) (Solution, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, g := range p.Groups {
		if len(g.Options) == 0 {
			logger.Debug("group without candidates", "triple", g.Triple)
			return Solution{Status: Unsat}, nil
		}
	}

	if !b.SkipRelaxation {
		feasible, err := Relaxation(p)
		switch {
		case errors.Is(err, ErrTooLarge):
			logger.Debug("skipping relaxation", "structures", len(p.Structures), "groups", len(p.Groups))
		case err != nil:
			logger.Debug("relaxation inconclusive", "error", err)
		case !feasible:
			return Solution{Status: Unsat}, nil
		}
	}

	s := newSearch(ctx, p)
	switch found := s.run(0); {
	case s.err != nil:
		logger.Debug("solve interrupted", "nodes", s.nodes, "error", s.err)
		return Solution{Status: Unknown, Nodes: s.nodes}, nil
	case found:
		return Solution{Status: Sat, Selected: s.selected, Choices: s.choices, Nodes: s.nodes}, nil
	default:
		return Solution{Status: Unsat, Nodes: s.nodes}, nil
	}
}

// bbSearch is the state of one branch-and-bound run.
type bbSearch struct {
	ctx   context.Context
	p     *Problem
	order []int

	selected []bool
	refs     []int
	choices  []int

	static  [2]float64
	dynamic [][2]float64
	member  [][]int

	nodes int
	err   error
}

func newSearch(ctx context.Context, p *Problem) *bbSearch {
	s := &bbSearch{
		ctx:      ctx,
		p:        p,
		selected: make([]bool, len(p.Structures)),
		refs:     make([]int, len(p.Structures)),
		choices:  make([]int, len(p.Groups)),
		dynamic:  make([][2]float64, len(p.Groups)),
		member:   make([][]int, len(p.Structures)),
	}
	for gi, g := range p.Groups {
		s.order = append(s.order, gi)
		s.choices[gi] = -1
		for _, si := range g.dynamic {
			s.member[si] = append(s.member[si], gi)
		}
	}
	slices.SortStableFunc(s.order, func(a, b int) int {
		return cmp.Compare(len(p.Groups[a].Options), len(p.Groups[b].Options))
	})
	return s
}

func sideIndex(st Structure) int {
	if st.AtServer {
		return 0
	}
	return 1
}

func (s *bbSearch) add(si int) {
	s.refs[si]++
	if s.refs[si] > 1 {
		return
	}
	s.selected[si] = true
	st := s.p.Structures[si]
	if st.Static {
		s.static[sideIndex(st)] += st.Memory
		return
	}
	for _, gi := range s.member[si] {
		s.dynamic[gi][sideIndex(st)] += st.Memory
	}
}

func (s *bbSearch) remove(si int) {
	s.refs[si]--
	if s.refs[si] > 0 {
		return
	}
	s.selected[si] = false
	st := s.p.Structures[si]
	if st.Static {
		s.static[sideIndex(st)] -= st.Memory
		return
	}
	for _, gi := range s.member[si] {
		s.dynamic[gi][sideIndex(st)] -= st.Memory
	}
}

func (s *bbSearch) fits() bool {
	var dyn [2]float64
	for _, d := range s.dynamic {
		dyn[0] = math.Max(dyn[0], d[0])
		dyn[1] = math.Max(dyn[1], d[1])
	}
	return s.p.Bound.Fits(ir.Memory{Server: s.static[0] + dyn[0], Client: s.static[1] + dyn[1]})
}

// added is the memory option o of group gi would add to the selection,
// counting each side once.
func (s *bbSearch) added(gi, o int) float64 {
	var m float64
	for _, si := range s.p.Groups[gi].Options[o].Structures {
		if !s.selected[si] {
			m += s.p.Structures[si].Memory
		}
	}
	return m
}

func (s *bbSearch) run(k int) bool {
	s.nodes++
	if s.err = s.ctx.Err(); s.err != nil {
		return false
	}
	if k == len(s.order) {
		return true
	}
	gi := s.order[k]
	g := s.p.Groups[gi]

	// An option that needs nothing new dominates every other one.
	for o := range g.Options {
		if s.p.Satisfied(gi, o, s.selected) {
			s.choices[gi] = o
			if s.run(k + 1) {
				return true
			}
			s.choices[gi] = -1
			return false
		}
	}

	opts := make([]int, len(g.Options))
	for i := range opts {
		opts[i] = i
	}
	slices.SortStableFunc(opts, func(a, b int) int {
		return cmp.Compare(s.added(gi, a), s.added(gi, b))
	})

	for _, o := range opts {
		structs := g.Options[o].Structures
		for _, si := range structs {
			s.add(si)
		}
		if s.fits() {
			s.choices[gi] = o
			if s.run(k + 1) {
				return true
			}
			s.choices[gi] = -1
		}
		for _, si := range structs {
			s.remove(si)
		}
		if s.err != nil {
			return false
		}
	}
	return false
}

// Package search enumerates the physical candidate plans of every
// (interaction, view, basic plan) triple of a task.
//
// Each triple runs a fixed pipeline over its basic plan:
//
//  1. logical rewriting, de-duplicated by structural hash;
//  2. placement of the cloud boundary above the first choice-free node;
//  3. static data structures (at least one per candidate);
//  4. optional dynamic data structures driven by the interaction;
//  5. placement of the network boundary;
//  6. cleanup, costing and the latency budget filter.
//
// Candidates needing the same set of caches are collapsed to the cheapest
// one. Triples share no mutable state and run in parallel.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/rules"
)

// DefaultAlpha is the default latency safety multiplier.
const DefaultAlpha = 1.0

// Options tunes the search.
type Options struct {
	// Alpha multiplies modeled latencies before comparing them with an
	// interaction's budget.
	Alpha float64

	// Parallelism bounds the number of triples searched at once.
	Parallelism int

	Logger *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithAlpha sets the latency safety multiplier.
func WithAlpha(alpha float64) Option {
	return func(o *Options) { o.Alpha = alpha }
}

// WithParallelism bounds the number of concurrent triple searches. Values
// below one mean GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *Options) { o.Parallelism = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func newOptions(opts []Option) Options {
	o := Options{Alpha: DefaultAlpha, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Parallelism < 1 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	return o
}

// job is one triple waiting to be searched.
type job struct {
	iact  ir.Interaction
	view  string
	basic BasicPlan
}

// Run searches every triple of task. An interaction takes part in a view
// when it drives a choice left in one of the view's basic plans. Triples
// are returned in interaction order, then view order, then basic-plan
// order.
//
// The only errors are invalid bindings while building basic plans, cost
// model failures (a base table without statistics is fatal) and context
// cancellation.
func Run(ctx context.Context, task *ir.Task, model *cost.Model, opts ...Option) ([]*Triple, error) {
	o := newOptions(opts)

	basics := make(map[string][]BasicPlan, len(task.Views))
	for _, v := range task.Views {
		bp, err := BasicPlans(v.Plan)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", v.Name, err)
		}
		basics[v.Name] = bp
	}

	var jobs []job
	for _, iact := range task.Interactions {
		for _, v := range task.Views {
			for _, bp := range basics[v.Name] {
				if ir.ReferencesAny(bp.Plan, iact.ChoiceIDs) {
					jobs = append(jobs, job{iact: iact, view: v.Name, basic: bp})
				}
			}
		}
	}
	o.Logger.Debug("candidate search", "triples", len(jobs), "parallelism", o.Parallelism)

	triples := make([]*Triple, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Parallelism)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			t, err := searchTriple(ctx, model, o, j)
			if err != nil {
				return fmt.Errorf("search %s/%s: %w", j.iact.Name, j.view, err)
			}
			triples[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return triples, nil
}

// SearchTriple searches a single triple. The basic plan is cloned, so callers may
// share it between triples.
func SearchTriple(ctx context.Context, model *cost.Model, iact ir.Interaction, view string, bp BasicPlan, opts ...Option) (*Triple, error) {
	return searchTriple(ctx, model, newOptions(opts), job{iact: iact, view: view, basic: bp})
}

func searchTriple(ctx context.Context, model *cost.Model, o Options, j job) (*Triple, error) {
	s := &searcher{
		ctx:        ctx,
		model:      model,
		iact:       j.iact,
		alpha:      o.Alpha,
		logical:    rules.Logical(),
		structures: rules.DataStructures(),
		seen:       map[uint64]struct{}{},
		byKey:      map[string]*Candidate{},
	}
	if err := s.rewrite(ir.Clone(j.basic.Plan)); err != nil {
		return nil, err
	}

	t := &Triple{
		Interaction: j.iact.Name,
		View:        j.view,
		Binding:     j.basic.Binding,
		BindingKey:  j.basic.Key,
		Explored:    s.explored,
	}
	for _, c := range s.byKey {
		t.Candidates = append(t.Candidates, c)
	}
	slices.SortFunc(t.Candidates, func(a, b *Candidate) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
	o.Logger.Debug("triple searched", "triple", t.ID(), "explored", t.Explored, "candidates", len(t.Candidates))
	return t, nil
}

// searcher holds the state of one triple search.
type searcher struct {
	ctx        context.Context
	model      *cost.Model
	iact       ir.Interaction
	alpha      float64
	logical    []rules.LogicalRule
	structures []rules.DataStructureRule

	seen     map[uint64]struct{}
	byKey    map[string]*Candidate
	explored int
}

// rewrite explores the logical rewrites of p. Every distinct plan reached
// moves on to cloud placement.
func (s *searcher) rewrite(p ir.Plan) error {
	h := ir.StructuralHash(p)
	if _, ok := s.seen[h]; ok {
		return nil
	}
	s.seen[h] = struct{}{}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	if err := s.placeCloud(p); err != nil {
		return err
	}
	for _, path := range ir.Paths(p) {
		n := ir.At(p, path)
		for _, r := range s.logical {
			if !r.Match(n) {
				continue
			}
			if err := s.rewrite(ir.Replace(p, path, r.Apply(n))); err != nil {
				return err
			}
		}
	}
	return nil
}

// placeCloud wraps the first node of the input chain whose subtree holds no
// choice in a CloudBoundary.
func (s *searcher) placeCloud(p ir.Plan) error {
	path := ir.Path{}
	n := p
	for ir.HasChoice(n) {
		in := n.Inputs()
		if len(in) == 0 {
			return nil
		}
		n, path = in[0], path.Child(0)
	}
	placed := ir.Replace(p, path, ir.NewCloud(n))
	return s.static(placed, ir.Paths(placed), false)
}

// static branches on applying each matching static structure at each
// position, deepest first. Only plans with at least one static structure
// continue.
func (s *searcher) static(p ir.Plan, positions []ir.Path, applied bool) error {
	if len(positions) == 0 {
		if !applied {
			return nil
		}
		return s.dynamic(p, dynamicPositions(p))
	}
	path, rest := positions[0], positions[1:]

	if err := s.static(p, rest, applied); err != nil {
		return err
	}
	n := ir.At(p, path)
	for _, r := range s.structures {
		if !r.MatchStatic(n) {
			continue
		}
		if err := s.static(ir.Replace(p, path, r.Apply(n, true)), rest, true); err != nil {
			return err
		}
	}
	return nil
}

// dynamicPositions lists the input chain of p above the first static cache
// or cloud boundary, deepest first.
func dynamicPositions(p ir.Plan) []ir.Path {
	var out []ir.Path
	path := ir.Path{}
	for n := p; n != nil; {
		switch n.(type) {
		case *ir.StaticCache, *ir.CloudBoundary:
			slices.Reverse(out)
			return out
		}
		out = append(out, path)
		in := n.Inputs()
		if len(in) == 0 {
			break
		}
		n, path = in[0], path.Child(0)
	}
	slices.Reverse(out)
	return out
}

// dynamic branches on applying each structure the interaction can probe at
// each position, deepest first.
func (s *searcher) dynamic(p ir.Plan, positions []ir.Path) error {
	if len(positions) == 0 {
		return s.placeNetwork(p)
	}
	path, rest := positions[0], positions[1:]

	if err := s.dynamic(p, rest); err != nil {
		return err
	}
	n := ir.At(p, path)
	for _, r := range s.structures {
		if !r.MatchDynamic(n, s.iact.ChoiceIDs) {
			continue
		}
		if err := s.dynamic(ir.Replace(p, path, r.Apply(n, false)), rest); err != nil {
			return err
		}
	}
	return nil
}

// placeNetwork finalizes one candidate per network boundary position, from
// the root down to the cloud boundary. A spatial index cannot be shipped, so
// the boundary never sits directly above its build or a cache of it.
func (s *searcher) placeNetwork(p ir.Plan) error {
	path := ir.Path{}
	for n := p; n != nil; {
		if !serializesSpatialIndex(n) {
			if err := s.finalize(ir.Replace(p, path, ir.NewNetwork(n))); err != nil {
				return err
			}
		}
		if _, ok := n.(*ir.CloudBoundary); ok {
			return nil
		}
		in := n.Inputs()
		if len(in) == 0 {
			return nil
		}
		n, path = in[0], path.Child(0)
	}
	return nil
}

func serializesSpatialIndex(n ir.Plan) bool {
	if ir.IsCache(n) {
		n = ir.Input(n)
	}
	_, ok := n.(*ir.SpatialIndexBuild)
	return ok
}

// finalize normalizes p, prices it and keeps it if it meets the budget and
// is the cheapest plan seen for its set of caches.
func (s *searcher) finalize(p ir.Plan) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	cand := rules.Cleanup(p)
	s.explored++

	steady, _, err := s.model.Cost(s.ctx, cand, false)
	if err != nil {
		return err
	}
	on, _, err := s.model.Cost(s.ctx, cand, true)
	if err != nil {
		return err
	}
	if steady.UpperLatency*s.alpha > s.iact.Latency.Latency || on.UpperLatency*s.alpha > s.iact.Latency.SwitchOn {
		return nil
	}

	c := &Candidate{Plan: cand, Steady: steady, SwitchOn: on}
	var sigs []string
	seen := map[string]bool{}
	for _, n := range ir.FindNodes(cand, ir.IsCache) {
		sig, _ := ir.CacheSignature(n)
		sigs = append(sigs, sig)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		mem, err := s.model.CacheMemory(s.ctx, n)
		if err != nil {
			return err
		}
		_, static := n.(*ir.StaticCache)
		c.Caches = append(c.Caches, Cache{
			Signature: sig,
			Static:    static,
			AtServer:  ir.AtServer(n),
			Memory:    mem,
			Structure: ir.Format(n),
		})
	}
	slices.SortFunc(c.Caches, func(a, b Cache) int {
		switch {
		case a.Signature < b.Signature:
			return -1
		case a.Signature > b.Signature:
			return 1
		}
		return 0
	})
	c.key = cacheKey(sigs)

	if prev, ok := s.byKey[c.key]; ok && !c.Cheaper(prev) {
		return nil
	}
	s.byKey[c.key] = c
	return nil
}

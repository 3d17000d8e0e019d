package search

import (
	"github.com/roach88/dashopt/internal/ir"
)

// BasicPlan is one variant of a view in which every discrete choice that
// changes the plan's shape has been resolved. Scalar choices and picks among
// plain columns remain.
type BasicPlan struct {
	// Binding resolves the pushed-up choices; Key is its rendering.
	Binding ir.Bindings
	Key     string
	Plan    ir.Plan
}

// pushedChoice is a discrete choice lifted to the root of a view.
type pushedChoice struct {
	id string
	n  int
}

// BasicPlans lifts every ChoicePlan, and every AnyChoice whose alternatives
// are not all column references, to the root of p and returns one basic
// plan per combination of alternatives, in enumeration order. A view
// without such choices has a single basic plan with an empty binding.
func BasicPlans(p ir.Plan) ([]BasicPlan, error) {
	pushed := pushedChoices(p)

	var out []BasicPlan
	var enumerate func(i int, b ir.Bindings) error
	enumerate = func(i int, b ir.Bindings) error {
		if i == len(pushed) {
			bound, err := ir.Bind(p, b)
			if err != nil {
				return err
			}
			binding := make(ir.Bindings, len(b))
			for k, v := range b {
				binding[k] = v
			}
			out = append(out, BasicPlan{Binding: binding, Key: binding.Key(), Plan: bound})
			return nil
		}
		c := pushed[i]
		for j := 0; j < c.n; j++ {
			b[c.id] = ir.Index(j)
			if err := enumerate(i+1, b); err != nil {
				return err
			}
		}
		delete(b, c.id)
		return nil
	}
	if err := enumerate(0, ir.Bindings{}); err != nil {
		return nil, err
	}
	return out, nil
}

// pushedChoices lists the choices BasicPlans resolves, in the order they
// are first met walking p inputs-first.
func pushedChoices(p ir.Plan) []pushedChoice {
	var out []pushedChoice
	seen := map[string]bool{}
	add := func(id string, n int) {
		if !seen[id] {
			seen[id] = true
			out = append(out, pushedChoice{id: id, n: n})
		}
	}
	ir.Walk(p, func(n ir.Plan, _ ir.Path) {
		if cp, ok := n.(*ir.ChoicePlan); ok {
			add(cp.ChoiceID, len(cp.Choices))
		}
		for _, e := range n.OwnExprs() {
			for _, x := range ir.FindInExpr(e, isStructuralAny) {
				a := x.(*ir.AnyChoice)
				add(a.ID, len(a.Choices))
			}
		}
	})
	return out
}

// isStructuralAny matches an AnyChoice that picks among anything other than
// plain columns.
func isStructuralAny(e ir.Expr) bool {
	a, ok := e.(*ir.AnyChoice)
	if !ok {
		return false
	}
	for _, c := range a.Choices {
		if !ir.IsColumnRef(c) {
			return true
		}
	}
	return false
}

package ir

import (
	"slices"
	"sort"
)

// Path addresses a node by child indexes from the root. The empty path is
// the root itself.
type Path []int

// Child returns a new path extending p with index i.
func (p Path) Child(i int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = i
	return out
}

// Parent returns the path of the parent node. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if len(p) == 0 {
		return nil, false
	}
	return slices.Clone(p[:len(p)-1]), true
}

// Walk visits every node of root in post-order (children before their
// parent). The path handed to fn is owned by the callback.
func Walk(root Plan, fn func(n Plan, path Path)) {
	walk(root, Path{}, fn)
}

func walk(n Plan, path Path, fn func(Plan, Path)) {
	for i, c := range n.Inputs() {
		walk(c, path.Child(i), fn)
	}
	fn(n, slices.Clone(path))
}

// Paths lists the paths of every node in post-order.
func Paths(root Plan) []Path {
	var out []Path
	Walk(root, func(_ Plan, path Path) { out = append(out, path) })
	return out
}

// FindNodes returns every node of root satisfying pred, descendants first.
func FindNodes(root Plan, pred func(Plan) bool) []Plan {
	var found []Plan
	Walk(root, func(n Plan, _ Path) {
		if pred(n) {
			found = append(found, n)
		}
	})
	return found
}

// ContainsNode reports whether any node of root satisfies pred.
func ContainsNode(root Plan, pred func(Plan) bool) bool {
	if pred(root) {
		return true
	}
	for _, c := range root.Inputs() {
		if ContainsNode(c, pred) {
			return true
		}
	}
	return false
}

// FindExprs returns every expression of every node of root satisfying pred.
// Expressions of inputs come before those of the node that holds them.
func FindExprs(root Plan, pred func(Expr) bool) []Expr {
	var found []Expr
	Walk(root, func(n Plan, _ Path) {
		for _, e := range n.OwnExprs() {
			found = append(found, FindInExpr(e, pred)...)
		}
	})
	return found
}

// ContainsExprIn reports whether any expression of root satisfies pred.
func ContainsExprIn(root Plan, pred func(Expr) bool) bool {
	return ContainsNode(root, func(n Plan) bool {
		for _, e := range n.OwnExprs() {
			if ContainsExpr(e, pred) {
				return true
			}
		}
		return false
	})
}

func isChoicePlan(p Plan) bool {
	_, ok := p.(*ChoicePlan)
	return ok
}

// HasChoice reports whether root holds any choice plan or choice expression.
func HasChoice(root Plan) bool {
	return ContainsNode(root, isChoicePlan) || ContainsExprIn(root, IsChoiceExpr)
}

// HasOwnChoice reports whether the node itself (not its inputs) is a choice
// plan or holds a choice expression.
func HasOwnChoice(n Plan) bool {
	if isChoicePlan(n) {
		return true
	}
	for _, e := range n.OwnExprs() {
		if ContainsExpr(e, IsChoiceExpr) {
			return true
		}
	}
	return false
}

// ChoiceIDs returns the sorted, de-duplicated ids of every choice plan and
// choice expression in root.
func ChoiceIDs(root Plan) []string {
	seen := map[string]struct{}{}
	Walk(root, func(n Plan, _ Path) {
		if cp, ok := n.(*ChoicePlan); ok {
			seen[cp.ChoiceID] = struct{}{}
		}
		for _, e := range n.OwnExprs() {
			for _, id := range ExprChoiceIDs(e) {
				seen[id] = struct{}{}
			}
		}
	})
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReferencesAny reports whether root references at least one of ids.
func ReferencesAny(root Plan, ids []string) bool {
	for _, id := range ChoiceIDs(root) {
		if slices.Contains(ids, id) {
			return true
		}
	}
	return false
}

// ReferencesOther reports whether root references a choice id not in ids.
func ReferencesOther(root Plan, ids []string) bool {
	for _, id := range ChoiceIDs(root) {
		if !slices.Contains(ids, id) {
			return true
		}
	}
	return false
}

// At returns the node at path, or nil if the path leaves the tree.
func At(root Plan, path Path) Plan {
	n := root
	for _, i := range path {
		in := n.Inputs()
		if i < 0 || i >= len(in) {
			return nil
		}
		n = in[i]
	}
	return n
}

// Replace returns a new root in which the node at path is sub. The ancestors
// of path are rebuilt with fresh memo slots; every other subtree is shared
// with root. Replace panics if the path leaves the tree.
func Replace(root Plan, path Path, sub Plan) Plan {
	if len(path) == 0 {
		return sub
	}
	in := root.Inputs()
	i := path[0]
	if i < 0 || i >= len(in) {
		panic("ir: path out of range")
	}
	next := slices.Clone(in)
	next[i] = Replace(in[i], path[1:], sub)
	return root.WithInputs(next)
}

// Chain returns the nodes on the input chain from root down to the leaf,
// following the first input at every step.
func Chain(root Plan) []Plan {
	var out []Plan
	for n := root; n != nil; {
		out = append(out, n)
		in := n.Inputs()
		if len(in) == 0 {
			break
		}
		n = in[0]
	}
	return out
}

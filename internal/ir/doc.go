// Package ir provides the expression and physical-plan intermediate
// representation used by the optimizer.
//
// All other internal packages import ir; ir imports nothing internal. This
// keeps the IR the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Expressions and plan nodes are closed sum types. Every kind check is a
//     type switch, never a string comparison on a type name.
//   - Nodes are immutable once constructed. Rewrites build a replacement
//     subtree and re-attach it by Path (see Replace), so the memoized
//     derivations on a node (schema, SQL projection, functional string,
//     structural hash, cost) can never go stale.
//   - Node ids are only export keys. Ids are assigned from a per-run
//     Sequence at export time and never influence plan selection.
//   - Equality of expressions is equality of their canonical String().
//   - Memo slots are filled without locking. A plan tree is used by one
//     goroutine at a time; Clone before handing a tree to another worker.
package ir

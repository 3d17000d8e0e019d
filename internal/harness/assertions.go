package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/optimizer"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Plans    []optimizer.Plan
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Plans) > 0 {
		fmt.Fprintf(&buf, "\nChosen plans:\n")
		for i, p := range e.Plans {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, p.Key())
			if p.Plan != nil {
				for _, line := range strings.Split(ir.Format(p.Plan), "\n") {
					fmt.Fprintf(&buf, "      %s\n", line)
				}
			}
		}
	}

	return buf.String()
}

func assertStatus(res *optimizer.Result, a Assertion) error {
	if string(res.Status) == a.Status {
		return nil
	}
	return &AssertionError{
		Type:     AssertStatus,
		Expected: a.Status,
		Actual:   string(res.Status),
		Plans:    res.Plans,
	}
}

func assertPlanCount(res *optimizer.Result, a Assertion) error {
	if len(res.Plans) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPlanCount,
		Expected: fmt.Sprintf("%d plan(s)", a.Count),
		Actual:   fmt.Sprintf("%d plan(s)", len(res.Plans)),
		Plans:    res.Plans,
	}
}

func assertPlanKeys(res *optimizer.Result, a Assertion) error {
	keys := planKeys(res)
	if slices.Equal(keys, a.Keys) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPlanKeys,
		Expected: fmt.Sprintf("%v", a.Keys),
		Actual:   fmt.Sprintf("%v", keys),
	}
}

// assertPlanContains checks that the selected plans hold a node of the
// given kind. An empty key selects every plan, and at least one plan must
// be selected.
func assertPlanContains(res *optimizer.Result, a Assertion) error {
	matched := 0
	for _, p := range res.Plans {
		if a.Key != "" && p.Key() != a.Key {
			continue
		}
		matched++
		if !ir.ContainsNode(p.Plan, func(n ir.Plan) bool { return ir.KindName(n) == a.Operator }) {
			return &AssertionError{
				Type:     AssertPlanContains,
				Expected: fmt.Sprintf("plan %s to contain %s", p.Key(), a.Operator),
				Actual:   "operator not found",
				Plans:    []optimizer.Plan{p},
			}
		}
	}
	if matched == 0 {
		return &AssertionError{
			Type:     AssertPlanContains,
			Expected: fmt.Sprintf("a plan for %q", a.Key),
			Actual:   fmt.Sprintf("plans %v", planKeys(res)),
		}
	}
	return nil
}

// assertSharedCache checks that at least Count cache signatures are used
// by more than one chosen plan and that the signature list has no
// duplicates.
func assertSharedCache(res *optimizer.Result, a Assertion) error {
	seen := map[string]bool{}
	for _, sig := range res.Diagnostics.CacheSignatures {
		if seen[sig] {
			return &AssertionError{
				Type:     AssertSharedCache,
				Expected: "each cache signature listed once",
				Actual:   fmt.Sprintf("%s listed twice in %v", sig, res.Diagnostics.CacheSignatures),
			}
		}
		seen[sig] = true
	}

	users := map[string]int{}
	for _, p := range res.Plans {
		sigs := map[string]bool{}
		for _, c := range p.Caches {
			sigs[c.Signature] = true
		}
		for sig := range sigs {
			users[sig]++
		}
	}
	shared := 0
	for _, n := range users {
		if n > 1 {
			shared++
		}
	}
	if shared >= a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSharedCache,
		Expected: fmt.Sprintf("at least %d shared cache signature(s)", a.Count),
		Actual:   fmt.Sprintf("%d shared", shared),
		Plans:    res.Plans,
	}
}

func assertMemoryRatio(res *optimizer.Result, a Assertion) error {
	r := res.MemoryRatio
	if (a.Min == nil || r >= *a.Min) && (a.Max == nil || r <= *a.Max) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMemoryRatio,
		Expected: fmt.Sprintf("ratio in [%s, %s]", bound(a.Min, "-inf"), bound(a.Max, "+inf")),
		Actual:   fmt.Sprintf("%g", r),
	}
}

func assertCandidates(res *optimizer.Result, a Assertion) error {
	if res.Diagnostics.Candidates == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCandidates,
		Expected: fmt.Sprintf("%d candidate(s)", a.Count),
		Actual:   fmt.Sprintf("%d candidate(s)", res.Diagnostics.Candidates),
	}
}

func planKeys(res *optimizer.Result) []string {
	keys := make([]string, len(res.Plans))
	for i, p := range res.Plans {
		keys[i] = p.Key()
	}
	return keys
}

func bound(v *float64, unset string) string {
	if v == nil {
		return unset
	}
	return fmt.Sprintf("%g", *v)
}

// EvaluateAssertions evaluates all assertions against the optimizer result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(res *optimizer.Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStatus:
			err = assertStatus(res, assertion)
		case AssertPlanCount:
			err = assertPlanCount(res, assertion)
		case AssertPlanKeys:
			err = assertPlanKeys(res, assertion)
		case AssertPlanContains:
			err = assertPlanContains(res, assertion)
		case AssertSharedCache:
			err = assertSharedCache(res, assertion)
		case AssertMemoryRatio:
			err = assertMemoryRatio(res, assertion)
		case AssertCandidates:
			err = assertCandidates(res, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

package compiler

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/roach88/dashopt/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrNoViews             = "E101" // at least one view required
	ErrNoChoices           = "E102" // interaction drives no choice
	ErrUnknownChoice       = "E103" // interaction drives a choice no view has
	ErrNegativeLatency     = "E104" // latency budget below zero
	ErrNegativeMemory      = "E105" // memory budget below zero
	ErrDuplicateChoice     = "E106" // choice listed twice by one interaction
	ErrUnknownValueChoice  = "E107" // values entry for a choice no view has
	ErrUnknownTaskChoice   = "E108" // tasks step binds a choice no view has
	ErrInvalidName         = "E109" // view or interaction name unusable in plan keys
	ErrUndrivenView        = "E110" // no interaction drives any choice of the view
	ErrDuplicateName       = "E111" // duplicate view or interaction name
	ErrMissingChoiceValues = "E112" // a task binds a choice with no values
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// namePattern matches names usable in "interaction/view/binding" keys.
var namePattern = regexp.MustCompile(`^[^/\s{}]+$`)

// Validate checks a compiled definition against the rules the optimizer
// relies on. Returns all errors found (does not fail-fast).
func Validate(def *Definition) []ValidationError {
	var errs []ValidationError
	task := def.Task

	// E101: at least one view
	if len(task.Views) == 0 {
		errs = append(errs, ValidationError{
			Field:   "view",
			Message: "at least one view is required",
			Code:    ErrNoViews,
		})
	}

	// E105: memory budget
	if task.Memory.Server < 0 || task.Memory.Client < 0 {
		errs = append(errs, ValidationError{
			Field:   "memory",
			Message: fmt.Sprintf("memory budget must not be negative, got %s", task.Memory),
			Code:    ErrNegativeMemory,
		})
	}

	known := map[string]bool{}
	viewNames := map[string]bool{}
	for _, v := range task.Views {
		errs = append(errs, validateName("view", v.Name, viewNames)...)
		for _, id := range ir.ChoiceIDs(v.Plan) {
			known[id] = true
		}
	}

	driven := map[string]bool{}
	iactNames := map[string]bool{}
	for _, iact := range task.Interactions {
		field := "interaction." + iact.Name
		errs = append(errs, validateName("interaction", iact.Name, iactNames)...)

		// E102: interaction drives something
		if len(iact.ChoiceIDs) == 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".choices",
				Message: fmt.Sprintf("interaction %q drives no choice", iact.Name),
				Code:    ErrNoChoices,
			})
		}

		seen := map[string]bool{}
		for _, id := range iact.ChoiceIDs {
			// E106: duplicate choice id
			if seen[id] {
				errs = append(errs, ValidationError{
					Field:   field + ".choices",
					Message: fmt.Sprintf("choice %q listed twice", id),
					Code:    ErrDuplicateChoice,
				})
			}
			seen[id] = true
			driven[id] = true

			// E103: choice exists in some view
			if !known[id] {
				errs = append(errs, ValidationError{
					Field:   field + ".choices",
					Message: fmt.Sprintf("choice %q does not appear in any view", id),
					Code:    ErrUnknownChoice,
				})
			}
		}

		// E104: latency budget
		if iact.Latency.Latency < 0 || iact.Latency.SwitchOn < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".latency",
				Message: fmt.Sprintf("latency budget must not be negative, got %g/%g", iact.Latency.Latency, iact.Latency.SwitchOn),
				Code:    ErrNegativeLatency,
			})
		}
	}

	// E110: every view reacts to some interaction
	for _, v := range task.Views {
		if !ir.ReferencesAny(v.Plan, keys(driven)) {
			errs = append(errs, ValidationError{
				Field:   "view." + v.Name,
				Message: fmt.Sprintf("no interaction drives a choice of view %q", v.Name),
				Code:    ErrUndrivenView,
			})
		}
	}

	// E107: values name known choices
	for _, id := range keys(def.Values) {
		if !known[id] {
			errs = append(errs, ValidationError{
				Field:   "values." + id,
				Message: fmt.Sprintf("choice %q does not appear in any view", id),
				Code:    ErrUnknownValueChoice,
			})
		}
	}

	// E108, E112: task steps bind known choices that have values
	for _, name := range keys(def.Tasks) {
		for i, step := range def.Tasks[name] {
			for _, id := range step {
				field := fmt.Sprintf("tasks.%s[%d]", name, i)
				if !known[id] {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("choice %q does not appear in any view", id),
						Code:    ErrUnknownTaskChoice,
					})
					continue
				}
				if _, ok := def.Values[id]; !ok && len(def.Values) > 0 {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("choice %q has no values", id),
						Code:    ErrMissingChoiceValues,
					})
				}
			}
		}
	}

	return errs
}

// validateName checks a view or interaction name and records it in seen.
func validateName(kind, name string, seen map[string]bool) []ValidationError {
	var errs []ValidationError

	// E109: usable in plan keys
	if !namePattern.MatchString(name) {
		errs = append(errs, ValidationError{
			Field:   kind + "." + name,
			Message: fmt.Sprintf("invalid %s name %q: must be non-empty without '/', '{', '}' or spaces", kind, name),
			Code:    ErrInvalidName,
		})
	}

	// E111: duplicate name
	if seen[name] {
		errs = append(errs, ValidationError{
			Field:   kind + "." + name,
			Message: fmt.Sprintf("duplicate %s name %q", kind, name),
			Code:    ErrDuplicateName,
		})
	}
	seen[name] = true
	return errs
}

// keys returns the keys of m in sorted order.
func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

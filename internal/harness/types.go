package harness

import (
	"github.com/roach88/dashopt/internal/compiler"
	"github.com/roach88/dashopt/internal/optimizer"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Optimizer is the optimizer's result.
	Optimizer *optimizer.Result `json:"optimizer"`

	// Definition is the compiled task, after overrides.
	Definition *compiler.Definition `json:"-"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result for res.
func NewResult(def *compiler.Definition, res *optimizer.Result) *Result {
	return &Result{
		Pass:       true,
		Optimizer:  res,
		Definition: def,
		Errors:     []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

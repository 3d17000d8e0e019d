// Package compiler turns CUE task definitions into optimizer tasks.
//
// A definition is a CUE package with three required and two optional
// top-level fields:
//
//	memory: {server: 4e9, client: 2e8}
//	interaction: brush: {choices: ["lo", "hi"], latency: {latency: 100, switch_on: 1000}}
//	view: range: {type: "Aggregate", input: {...}, groupbys: [...], aggs: [...]}
//	values: lo: [{type: "Int", value: 0}, ...]
//	tasks: range: ["lo", ["lo", "hi"]]
//
// Views use the same tagged-union shape as exported plans; node ids are
// optional.
package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/dashopt/internal/ir"
)

// Definition is a compiled task definition.
type Definition struct {
	Task *ir.Task

	// Values is the value domain of each choice, passed through to exported
	// bundles.
	Values map[string][]ir.DomainValue

	// Tasks is the binding order of each plan variant, passed through to
	// exported bundles.
	Tasks map[string][]ir.TaskStep
}

// CompileTask parses a CUE value into a Definition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the root of the task package, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`memory: {...}, interaction: {...}, view: {...}`)
//	def, err := CompileTask(v)
func CompileTask(v cue.Value) (*Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{
		Task:   &ir.Task{},
		Values: map[string][]ir.DomainValue{},
		Tasks:  map[string][]ir.TaskStep{},
	}

	memory, err := parseMemory(v)
	if err != nil {
		return nil, err
	}
	def.Task.Memory = memory

	def.Task.Views, err = parseViews(v)
	if err != nil {
		return nil, err
	}
	if len(def.Task.Views) == 0 {
		return nil, &CompileError{
			Field:   "view",
			Message: "at least one view is required",
			Pos:     v.Pos(),
		}
	}

	def.Task.Interactions, err = parseInteractions(v)
	if err != nil {
		return nil, err
	}

	if err := decodeOptional(v, "values", &def.Values); err != nil {
		return nil, err
	}
	if err := decodeOptional(v, "tasks", &def.Tasks); err != nil {
		return nil, err
	}
	return def, nil
}

// parseViews compiles every view in declaration order.
func parseViews(v cue.Value) ([]ir.View, error) {
	viewsVal := v.LookupPath(cue.ParsePath("view"))
	if !viewsVal.Exists() {
		return nil, nil
	}

	iter, err := viewsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var views []ir.View
	for iter.Next() {
		name := iter.Label()
		plan, err := compilePlan(iter.Value(), "view."+name)
		if err != nil {
			return nil, err
		}
		views = append(views, ir.View{Name: name, Plan: plan})
	}
	return views, nil
}

// compilePlan decodes a tagged-union plan tree. Import errors are reported
// at the position of the offending CUE value.
func compilePlan(v cue.Value, field string) (ir.Plan, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	plan, err := ir.UnmarshalPlan(data)
	if err != nil {
		var importErr *ir.ImportError
		if errors.As(err, &importErr) {
			rel := strings.TrimPrefix(strings.TrimPrefix(importErr.Path, "$"), ".")
			if rel != "" {
				field += "." + rel
			}
			return nil, &CompileError{
				Field:   field,
				Message: importErr.Message,
				Pos:     posAt(v, rel),
			}
		}
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return plan, nil
}

// posAt returns the position of the value at the relative path rel,
// falling back to the nearest existing ancestor.
func posAt(v cue.Value, rel string) token.Pos {
	for rel != "" {
		if p := cue.ParsePath(rel); p.Err() == nil {
			if sub := v.LookupPath(p); sub.Exists() {
				return sub.Pos()
			}
		}
		i := strings.LastIndexAny(rel, ".[")
		if i < 0 {
			break
		}
		rel = rel[:i]
	}
	return v.Pos()
}

// parseMemory extracts the required memory budget.
func parseMemory(v cue.Value) (ir.Memory, error) {
	memVal := v.LookupPath(cue.ParsePath("memory"))
	if !memVal.Exists() {
		return ir.Memory{}, &CompileError{
			Field:   "memory",
			Message: "memory is required",
			Pos:     v.Pos(),
		}
	}
	server, err := requiredNumber(memVal, "server", "memory.server")
	if err != nil {
		return ir.Memory{}, err
	}
	client, err := requiredNumber(memVal, "client", "memory.client")
	if err != nil {
		return ir.Memory{}, err
	}
	return ir.Memory{Server: server, Client: client}, nil
}

// requiredNumber reads the number at path under v.
func requiredNumber(v cue.Value, path, field string) (float64, error) {
	n := v.LookupPath(cue.ParsePath(path))
	if !n.Exists() {
		return 0, &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	f, err := n.Float64()
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected a number, got %v", n.IncompleteKind()),
			Pos:     n.Pos(),
		}
	}
	return f, nil
}

// decodeOptional decodes the field at path into out if it exists. Numbers
// are kept as json.Number so they export unchanged.
func decodeOptional(v cue.Value, path string, out any) error {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return nil
	}
	data, err := val.MarshalJSON()
	if err != nil {
		return formatCUEError(err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &CompileError{Field: path, Message: err.Error(), Pos: val.Pos()}
	}
	return nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

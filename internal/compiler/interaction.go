package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/dashopt/internal/ir"
)

// parseInteractions extracts interaction definitions in declaration order.
//
//	interaction: brush: {
//		choices: ["lo", "hi"]
//		latency: {latency: 100, switch_on: 1000}
//	}
func parseInteractions(v cue.Value) ([]ir.Interaction, error) {
	var interactions []ir.Interaction

	iactVal := v.LookupPath(cue.ParsePath("interaction"))
	if !iactVal.Exists() {
		return interactions, nil
	}

	iter, err := iactVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		iact, err := parseInteraction(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		interactions = append(interactions, iact)
	}
	return interactions, nil
}

func parseInteraction(name string, v cue.Value) (ir.Interaction, error) {
	iact := ir.Interaction{Name: name}
	field := "interaction." + name

	choicesVal := v.LookupPath(cue.ParsePath("choices"))
	if !choicesVal.Exists() {
		return iact, &CompileError{
			Field:   field + ".choices",
			Message: "choices are required",
			Pos:     v.Pos(),
		}
	}
	choiceIter, err := choicesVal.List()
	if err != nil {
		return iact, &CompileError{
			Field:   field + ".choices",
			Message: "choices must be a list of choice ids",
			Pos:     choicesVal.Pos(),
		}
	}
	for choiceIter.Next() {
		id, err := choiceIter.Value().String()
		if err != nil {
			return iact, &CompileError{
				Field:   field + ".choices",
				Message: fmt.Sprintf("choice id must be a string, got %v", choiceIter.Value().IncompleteKind()),
				Pos:     choiceIter.Value().Pos(),
			}
		}
		iact.ChoiceIDs = append(iact.ChoiceIDs, id)
	}

	latVal := v.LookupPath(cue.ParsePath("latency"))
	if !latVal.Exists() {
		return iact, &CompileError{
			Field:   field + ".latency",
			Message: "latency is required",
			Pos:     v.Pos(),
		}
	}
	iact.Latency.Latency, err = requiredNumber(latVal, "latency", field+".latency.latency")
	if err != nil {
		return iact, err
	}
	iact.Latency.SwitchOn, err = requiredNumber(latVal, "switch_on", field+".latency.switch_on")
	if err != nil {
		return iact, err
	}
	return iact, nil
}

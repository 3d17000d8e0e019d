package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/optimizer"
)

// marshalDiagnostics converts diagnostics to canonical JSON TEXT for
// storage.
func marshalDiagnostics(d optimizer.Diagnostics) (string, error) {
	data, err := ir.MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("marshal diagnostics: %w", err)
	}
	return string(data), nil
}

func unmarshalDiagnostics(s string) (optimizer.Diagnostics, error) {
	var d optimizer.Diagnostics
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return d, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	return d, nil
}

// marshalSignatures converts a plan's cache signatures to a canonical JSON
// array. A nil slice is stored as [].
func marshalSignatures(sigs []string) (string, error) {
	if sigs == nil {
		sigs = []string{}
	}
	data, err := ir.MarshalCanonical(sigs)
	if err != nil {
		return "", fmt.Errorf("marshal signatures: %w", err)
	}
	return string(data), nil
}

func unmarshalSignatures(s string) ([]string, error) {
	sigs := []string{}
	if err := json.Unmarshal([]byte(s), &sigs); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return sigs, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

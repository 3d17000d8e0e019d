package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/dashopt/internal/compiler"
	"github.com/roach88/dashopt/internal/stats"
)

// LoadResult contains a task definition loaded from a directory.
type LoadResult struct {
	Definition *compiler.Definition
	CUEValue   cue.Value // The raw CUE value for additional processing
	FileCount  int       // Number of CUE files found
}

// LoadError represents an error that occurred while loading a task or its
// statistics.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadTask loads and compiles the CUE task definition in dir.
//
// Errors are *LoadError. A directory that builds but does not compile
// returns the CUE value in the result alongside the error, so validate can
// report it.
func LoadTask(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("task directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing task directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}
	def, err := compiler.CompileTask(value)
	if err != nil {
		return result, convertCompileError(err, dir)
	}
	result.Definition = def
	return result, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// OpenStats opens a statistics source. Files ending in .yaml or .yml are
// fixtures; anything else is a SQLite database. The returned close function
// is never nil.
func OpenStats(ctx context.Context, path string) (stats.Source, func() error, error) {
	noop := func() error { return nil }
	if path == "" {
		return nil, noop, &LoadError{Code: ErrCodeStats, Message: "--stats is required"}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, noop, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("statistics not found: %s", path)}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := stats.LoadFixture(path)
		if err != nil {
			return nil, noop, &LoadError{Code: ErrCodeStats, Message: err.Error()}
		}
		return f, noop, nil
	default:
		s, err := stats.OpenSQLite(ctx, path)
		if err != nil {
			return nil, noop, &LoadError{Code: ErrCodeStats, Message: err.Error()}
		}
		return s, s.Close, nil
	}
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No CUE files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeStats        = "E008" // Statistics source unusable
	ErrCodeCoefficients = "E009" // Coefficient table invalid
	ErrCodeInvalidFlag  = "E010" // Flag value out of range
	ErrCodeOptimize     = "E011" // Optimizer error
	ErrCodeCancelled    = "E012" // Interrupted
	ErrCodeHistory      = "E013" // Run history unusable
	ErrCodeRunNotFound  = "E014" // Run not recorded

	// Task definition errors
	ErrCodeInvalidMemory      = "E120" // memory budget malformed
	ErrCodeInvalidView        = "E121" // view plan malformed
	ErrCodeInvalidInteraction = "E122" // interaction malformed
	ErrCodeInvalidBundle      = "E123" // values or tasks malformed
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	head, _, _ := strings.Cut(field, ".")
	switch head {
	case "memory":
		return ErrCodeInvalidMemory
	case "view":
		return ErrCodeInvalidView
	case "interaction":
		return ErrCodeInvalidInteraction
	case "values", "tasks":
		return ErrCodeInvalidBundle
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dashopt/internal/optimizer"
	"github.com/roach88/dashopt/internal/store"
)

// recordRun appends res and its exported bundle to the run history at
// path.
func recordRun(cmd *cobra.Command, path, taskDir string, res *optimizer.Result, bundle []byte, formatter *OutputFormatter) error {
	st, err := store.Open(path)
	if err != nil {
		return historyError(formatter, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	seq, inserted, err := st.WriteRun(ctx, store.NewRun(taskDir, res, bundle))
	if err != nil {
		return historyError(formatter, err)
	}
	if inserted {
		formatter.VerboseLog("Recorded run %s as #%d in %s", res.Diagnostics.RunID, seq, path)
	} else {
		formatter.VerboseLog("Run %s already recorded as #%d in %s", res.Diagnostics.RunID, seq, path)
	}
	return nil
}

// openHistory opens an existing run history.
func openHistory(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("run history not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeHistory, Message: err.Error()}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeHistory, Message: err.Error()}
	}
	return st, nil
}

func historyError(formatter *OutputFormatter, err error) error {
	code := ErrCodeHistory
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code = loadErr.Code
	} else if errors.Is(err, store.ErrRunNotFound) {
		code = ErrCodeRunNotFound
	}
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}

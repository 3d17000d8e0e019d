// Command dashopt chooses physical plans for interactive dashboards.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/dashopt/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())

	// Commands report their own failures; anything else (unknown flags,
	// bad arguments) is printed here.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(cli.GetExitCode(err))
}

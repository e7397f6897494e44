// Command polyql parses, detects and translates time-series queries and
// serves the same over HTTP.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/polyql/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// Commands report their own failures; anything else is a cobra
		// usage error.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Message == "invalid flags" {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}

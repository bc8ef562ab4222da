package main

import (
	"os"

	"github.com/mcpmux/mcpmux/cmd"
)

func main() {
	// Cobra reports the error itself, the exit code is on us.
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

// ============================================================================
// topo-nav entry point: all command logic lives in internal/cli.
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/topo-nav/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	os.Exit(cli.Execute())
}

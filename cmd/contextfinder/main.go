// contextfinder is the semantic code-search and context-assembly
// engine for autonomous coding agents.
package main

import (
	"fmt"
	"os"

	"github.com/AmirTlinov/context-finder-mcp/cmd/contextfinder/cmd"
	ferrors "github.com/AmirTlinov/context-finder-mcp/internal/errors"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprint(os.Stderr, ferrors.FormatForCLI(err))
		os.Exit(1)
	}
}

// Command edupolicy answers education policy questions from a cited
// document corpus. It provides a CLI (via Cobra), an HTTP API, and an MCP
// stdio server over the same query controller.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/edupolicy-go/cmd/edupolicy/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

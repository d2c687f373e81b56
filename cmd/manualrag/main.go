// Command manualrag uploads product manuals into content-addressed storage,
// registers them in a manual registry, and answers questions about them by
// semantic retrieval. It provides a CLI (via Cobra) and an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/manualrag-go/cmd/manualrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}

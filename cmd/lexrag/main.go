// Command lexrag is the entry point for the lexical retrieval-augmented
// generation service. It seeds a passage repository from a document corpus,
// and answers questions over HTTP or from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/lexrag/cmd/lexrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

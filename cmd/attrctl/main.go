// Command attrctl inspects and edits attribute stores.
package main

import (
	"fmt"
	"os"

	"github.com/jacentio/attrmap/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// Command nodemon serves email subscriptions to mesh node status.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/nodemon/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

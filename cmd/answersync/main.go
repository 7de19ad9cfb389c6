// Command answersync submits lesson answers and caches them while the
// remote API is unreachable.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/answersync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

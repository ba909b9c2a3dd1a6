package main

import (
	"fmt"
	"os"

	"certnode/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(cli.GetExitCode(err))
	}
}

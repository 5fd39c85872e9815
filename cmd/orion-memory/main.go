package main

import (
	"os"

	"github.com/orion-hub/orion-memory-go/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

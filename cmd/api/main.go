package main

import (
	"fmt"
	"os"

	"tomorrow/api/internal/cli"
	"tomorrow/api/internal/config"
)

func main() {
	if err := cli.NewRootCommand(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

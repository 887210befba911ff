package main

import (
	"fmt"
	"os"

	"github.com/pennos-project/pennos/cmd/pennos"
)

func main() {
	rootCmd := cmd.SetupCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

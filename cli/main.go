package main

import (
	"os"

	"github.com/adamwolfe2/leadme-sub019/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/MEKXH/pushgate/cmd/pushgate/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}

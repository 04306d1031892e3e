package main

import (
	"os"

	"github.com/lnregnet/lnregnet/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

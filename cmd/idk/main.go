package main

import (
	"os"

	"github.com/adbi/idk/cmd/idk/cmds"
	"github.com/adbi/idk/pkg/logflags"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		logflags.Close()
		os.Exit(1)
	}
	logflags.Close()
}

package main

import (
	"os"

	"github.com/omochice/touchfish-chat/internal/cli"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}

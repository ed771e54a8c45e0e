// Command labkit serves browser coding labs and runs their test suites.
package main

import (
	"os"

	"github.com/livetemplate/labkit/cmd/labkit/commands"
)

const version = "0.1.0-dev"

func main() {
	if err := commands.NewRootCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}

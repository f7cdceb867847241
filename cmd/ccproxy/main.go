// Package main is the entry point for the ccproxy gateway. It wires
// dependencies by hand the way the teacher's main.go does (factory map,
// registry, http.Server{}), but fans the CLI surface out across cobra
// subcommands instead of one flat main. A failed command's error is printed
// to stderr and the process exits with status 1.
package main

import (
	"fmt"
	"os"

	"github.com/ccproxy-go/ccproxy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

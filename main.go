// Package main is the entry point for the tdmesh node daemon.
package main

import (
	"fmt"
	"os"

	"serene.dev/tdmesh/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

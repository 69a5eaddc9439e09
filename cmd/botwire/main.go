// Package main provides the entry point for the botwire CLI.
package main

import (
	"fmt"
	"os"

	"github.com/botwire/botwire/cmd/botwire/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

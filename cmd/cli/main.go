// Package main is the entry point for the draftplane CLI.
// draftctl is the terminal tool for editors working against the draftplane API.
package main

import (
	"os"

	"draftplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

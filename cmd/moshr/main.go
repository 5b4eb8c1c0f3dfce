// Package main is the entry point for the moshr application.
package main

import (
	"os"

	"github.com/jmylchreest/moshr/cmd/moshr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

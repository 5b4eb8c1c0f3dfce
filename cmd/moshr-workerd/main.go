// Package main is the entry point for the moshr-workerd native worker.
package main

import (
	"os"

	"github.com/jmylchreest/moshr/cmd/moshr-workerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

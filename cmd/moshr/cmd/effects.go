package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/moshr/internal/effects"
)

var effectsCmd = &cobra.Command{
	Use:   "effects",
	Short: "List available effects and their parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		all := effects.All()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range all {
			preview := ""
			if e.Previewable {
				preview = "preview"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Backend, preview, e.Description)
			for _, p := range e.Params {
				fmt.Fprintf(tw, "  -p %s\t%s\t[%s..%s]\t%s\n",
					p.Name, num(p.Default), num(p.Min), num(p.Max), p.Description)
			}
		}
		return tw.Flush()
	},
}

func init() {
	effectsCmd.Flags().Bool("json", false, "output the catalogue as JSON")
	rootCmd.AddCommand(effectsCmd)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

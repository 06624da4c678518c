package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// render writes v as JSON when --json is set, otherwise runs human.
func render(cmd *cobra.Command, ctx *commandContext, v any, human func() error) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, v)
	}
	return human()
}

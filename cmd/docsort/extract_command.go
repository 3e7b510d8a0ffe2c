package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExtractCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the text docsort would send for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ex := newExtractor(cfg)
			text, err := ex.Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, text)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haricheung/thor-planner/internal/ui"
	"github.com/haricheung/thor-planner/internal/vocab"
)

func vocabCmd() *cobra.Command {
	var prompt bool
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Print the action vocabulary the planner accepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			voc := vocab.Default()
			if prompt {
				fmt.Fprintln(cmd.OutOrStdout(), voc.Describe())
				return nil
			}
			ui.RenderVocabulary(cmd.OutOrStdout(), voc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", false, "print the vocabulary as it is described to the model")
	return cmd
}

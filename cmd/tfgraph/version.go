package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"k8s.io/examples/AI/tfgraph/pkg/tf"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tf.DefaultEngine().Version())
			return err
		},
	}
}

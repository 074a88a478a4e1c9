package main

import (
	"context"
	"fmt"
	"time"

	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/spf13/cobra"
)

var declareCmd = &cobra.Command{
	Use:   "declare",
	Short: "Create the routed and dead-letter topics if they do not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := topology.Declare(ctx, brokerList(), cfg.Topology); err != nil {
			return err
		}
		for _, t := range cfg.Topology.Topics() {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pipa-project/agent/pkg/perf"
)

func newEventsCommand() *cobra.Command {
	var available bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the predefined perf events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events := perf.Events()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tCONFIG")
			for _, ev := range events {
				if available && !perf.Available(ev) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%#x\n", ev.Name, ev.Type, ev.Config)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&available, "available", false,
		"only list events this kernel and PMU can actually open")

	return cmd
}

// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/golang-auth/go-sasl"
)

func newMechsCommand(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "mechs",
		Short: "List the available mechanisms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client: %s\n", strings.Join(sasl.ClientMechs(), " "))
			fmt.Fprintf(out, "server: %s\n", strings.Join(sasl.ServerMechs(), " "))
			return nil
		},
	}
}

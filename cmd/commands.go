// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/absmach/mbridge/pkg/client"
	"github.com/absmach/mbridge/pkg/dispatcher"
	"github.com/absmach/mbridge/pkg/library/numeric"
	"github.com/absmach/mbridge/pkg/library/sequence"
	"github.com/spf13/cobra"
)

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
		},
	}
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the request commands and their fallback responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dispatcher.New(numeric.Library{}, sequence.Library{})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST\tRESULT\tFALLBACK")
			for _, c := range d.Commands() {
				fmt.Fprintf(w, "%s\t%s\t%q\n", c.Usage(), c.Result, c.Fallback)
			}
			return w.Flush()
		},
	}
}

func newCallCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <command> [args...]",
		Short: "Send one request to a running server and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := client.Dial(ctx, addr)
			if err != nil {
				return err
			}

			resp, err := c.Call(ctx, args[0], args[1:]...)
			if err != nil {
				return errors.Join(err, c.Close())
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return c.Close()
		},
	}

	cmd.Flags().StringVarP(&addr, "address", "a", client.DefaultAddress, "server address")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "request timeout")

	return cmd
}

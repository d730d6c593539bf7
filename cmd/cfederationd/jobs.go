package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centauron/federation-node/federationClient/core"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Drive computing job executions on the compute backend",
	}
	cmd.AddCommand(
		jobsActionCmd("submit <execution>", "Prepare and execute a computing job execution", cobra.ExactArgs(1),
			func(c *core.Client, cmd *cobra.Command, args []string) (string, error) {
				return "submitted", c.Jobs().Submit(commandContext(cmd), args[0])
			}),
		jobsActionCmd("finished <execution> <status>", "Record the status reported for an execution", cobra.ExactArgs(2),
			func(c *core.Client, cmd *cobra.Command, args []string) (string, error) {
				return args[1], c.Jobs().JobFinished(commandContext(cmd), args[0], args[1])
			}),
	)
	return cmd
}

func jobsActionCmd(use, short string, argsFn cobra.PositionalArgs, run func(c *core.Client, cmd *cobra.Command, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  argsFn,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := core.NewClient(commandContext(cmd), cfg, newLogger(cfg), core.Options{
				Offline:  true,
				Headless: true,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := run(client, cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], status)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/centauron/federation-node/federationClient/core"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a stored message",
	}
	cmd.AddCommand(
		replayBoxCmd("inbox", "Process an inbox message again", func(c *core.Client, cmd *cobra.Command, id uint) error {
			return c.Inbox().Replay(commandContext(cmd), id)
		}),
		replayBoxCmd("outbox", "Deliver an outbox message again", func(c *core.Client, cmd *cobra.Command, id uint) error {
			return c.Outbox().Replay(commandContext(cmd), id)
		}),
	)
	return cmd
}

func replayBoxCmd(box, short string, replay func(c *core.Client, cmd *cobra.Command, id uint) error) *cobra.Command {
	return &cobra.Command{
		Use:   box + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cast.ToUintE(args[0])
			if err != nil || id == 0 {
				return fmt.Errorf("invalid message id %q", args[0])
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// Only outbound broadcasts need the ledger.
			client, err := core.NewClient(commandContext(cmd), cfg, newLogger(cfg), core.Options{
				Offline:  box == "inbox",
				Headless: true,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := replay(client, cmd, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s message %d replayed\n", box, id)
			return nil
		},
	}
}

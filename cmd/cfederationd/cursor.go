package main

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/centauron/federation-node/federationClient/chain"
	"github.com/centauron/federation-node/federationClient/db"
)

func cursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move the last seen block",
	}
	cmd.AddCommand(cursorGetCmd(), cursorSetCmd())
	return cmd
}

func openChainStore(cmd *cobra.Command) (*chain.Store, *db.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.OpenFileDB(cfg.DataDir(), db.DefaultFileName, true)
	if err != nil {
		return nil, nil, err
	}
	return chain.NewStore(database), database, nil
}

func cursorGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the last fully processed block height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, database, err := openChainStore(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			height, ok, err := s.GetCursor()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no cursor stored")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), height)
			return nil
		},
	}
}

func cursorSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <height>",
		Short: "Overwrite the last seen block, also backwards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := cast.ToUint64E(args[0])
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			s, database, err := openChainStore(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := s.SetCursor(height); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor set to %d\n", height)
			return nil
		},
	}
}

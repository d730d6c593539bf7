package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/centauron/federation-node/federationClient/config"
	"github.com/centauron/federation-node/federationClient/constant"
	"github.com/centauron/federation-node/federationClient/core"
)

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(cursorCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(testEventCmd())
	rootCmd.AddCommand(jobsCmd())
}

func initCmd() *cobra.Command {
	var (
		nodeIdentifier string
		force          bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString(flagHome)
			if err != nil {
				return err
			}
			target := filepath.Join(home, constant.ConfigSubdir, constant.ConfigFileName)
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", target)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			cfg.NodeIdentifier = nodeIdentifier
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeIdentifier, "node-identifier", "", "global identifier of this node")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the federation node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := core.NewClient(ctx, cfg, log, core.Options{})
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Run(ctx)
		},
	}
	addOverrideFlags(cmd.Flags())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print cfederationd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Name:    %s\n", "cfederationd")
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:  %s\n", Commit)
		},
	}
}

func testEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-event",
		Short: "Broadcast a diagnostic test log message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			client, err := core.NewClient(ctx, cfg, newLogger(cfg), core.Options{Headless: true})
			if err != nil {
				return err
			}
			defer client.Close()

			cid, hash, err := client.SendTestEvent(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cid: %s\ntx:  %s\n", cid, hash)
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

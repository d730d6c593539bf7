package main

import (
	"github.com/spf13/cobra"

	"github.com/centauron/federation-node/federationClient/constant"
)

const flagHome = "home"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cfederationd",
		Short:         "Federation node daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(flagHome, constant.DefaultNodeHome, "node home directory")

	InitRootCmd(rootCmd)

	return rootCmd
}

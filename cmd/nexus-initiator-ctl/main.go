// Package main implements nexus-initiator-ctl, a CLI over the Device
// Discovery Helper (C8): attach/detach/list of NVMe-oF exported nexus
// volumes on the initiator side.
//
// Usage:
//
//	nexus-initiator-ctl attach nvmf://host:port/nqn...
//	nexus-initiator-ctl detach <uuid>
//	nexus-initiator-ctl status
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "nexus-initiator-ctl",
		Short:   "Attach, detach, and list NVMe-oF exported nexus volumes",
		Version: version,
	}

	rootCmd.AddCommand(newAttachCmd())
	rootCmd.AddCommand(newDetachCmd())
	rootCmd.AddCommand(newStatusCmd())
	return rootCmd
}

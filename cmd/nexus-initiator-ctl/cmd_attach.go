package main

import (
	"fmt"

	"github.com/nexusd/nexusd/pkg/initiator"
	"github.com/spf13/cobra"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <nvmf-uri>",
		Short: "Attach an exported nexus volume as a local block device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := initiator.New(initiator.NewSysfsEnumerator(), initiator.NewNVMeCLIConnector())
			path, err := h.Attach(cmd.Context(), args[0])
			if err != nil {
				colorError.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			colorSuccess.Fprintf(cmd.OutOrStdout(), "attached at %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

package main

import (
	"github.com/nexusd/nexusd/pkg/initiator"
	"github.com/spf13/cobra"
)

func newDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <uuid>",
		Short: "Detach a previously attached nexus volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := initiator.New(initiator.NewSysfsEnumerator(), initiator.NewNVMeCLIConnector())
			if err := h.Detach(cmd.Context(), args[0]); err != nil {
				colorError.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			colorSuccess.Fprintln(cmd.OutOrStdout(), "detached")
			return nil
		},
	}
}

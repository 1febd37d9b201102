package main

import (
	"github.com/nexusd/nexusd/pkg/initiator"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List locally attached nexus NVMe-oF volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h := initiator.New(initiator.NewSysfsEnumerator(), initiator.NewNVMeCLIConnector())
			devices, err := h.ListAttached(cmd.Context())
			if err != nil {
				colorError.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			t := newStyledTable()
			t.AppendHeader([]string{"Device", "Model", "WWN"})
			if len(devices) == 0 {
				colorMuted.Fprintln(cmd.OutOrStdout(), "no nexus volumes attached")
				return nil
			}
			for _, d := range devices {
				t.AppendRow([]interface{}{d.DevName, d.IDModel, d.IDWWN})
			}
			renderTable(t)
			return nil
		},
	}
}

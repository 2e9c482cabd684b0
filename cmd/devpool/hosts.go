package main

import (
	"github.com/fatih/color"
	"github.com/gammadia/devicepool/poolfile"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Validate the poolfile and list its hosts",

	RunE: func(cmd *cobra.Command, args []string) error {
		pf, err := poolfile.Read(lo.Must(cmd.Flags().GetString("poolfile")))
		if err != nil {
			return err
		}

		cmd.Printf("%-20s %-24s %-6s %-16s %s\n", "DEVICE", "HOSTNAME", "PORT", "PLATFORM", "PROXY")
		for _, host := range pf.PoolHosts() {
			proxy := host.ProxyJump
			if proxy == "" {
				proxy = "-"
			}
			cmd.Printf("%-20s %-24s %-6d %-16s %s\n",
				color.HiCyanString(host.DeviceID), host.Hostname, host.Port, host.Platform, proxy)
		}
		return nil
	},
}

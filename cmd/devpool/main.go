package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var verbose bool

var devpoolCmd = &cobra.Command{
	Use:   "devpool",
	Short: "Devpool hands out temporary exclusive leases on a fleet of devices.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func init() {
	flags := devpoolCmd.PersistentFlags()
	flags.StringP("poolfile", "f", "Poolfile.yaml", "poolfile describing the host fleet")
	flags.String("log-format", "text", "log format (json, text)")
	flags.String("log-level", "WARN", "minimum log level")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.SetEnvPrefix("devpool")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))

	devpoolCmd.AddCommand(execCmd, hostsCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := devpoolCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

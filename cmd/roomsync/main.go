package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	username   string
	logLevel   string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "roomsync",
		Short: "Realtime client for shared todo rooms",
		Long: `roomsync keeps a local copy of a shared todo room in sync with the server.

Local edits are applied immediately and written back in the background;
server broadcasts are merged as they arrive over the room's websocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file (defaults and ROOMSYNC_* env when empty)")
	flags.StringVarP(&opts.username, "username", "u", "", "identity to act as (overrides config and token claims)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override: debug, info, warn, error")

	rootCmd.AddCommand(
		watchCmd(opts),
		tuiCmd(opts),
		loginCmd(opts),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

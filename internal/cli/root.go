// File: internal/cli/root.go
// Author: momentics <momentics@gmail.com>
//
// Command tree of the netio binary.

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version of the netio binary.
const Version = "0.4.0"

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netio",
		Short: "reactor-driven socket toolkit",
		Long: fmt.Sprintf(`netio (v%s)

Callback-driven TCP, UDP and Unix-domain sockets on a single epoll reactor.
Every flag can also be set as NETIO_<FLAG> (e.g. NETIO_LOG_LEVEL=debug),
in .env / .env.local, or in the file given by --config.`, Version),
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", WrapString("optional config file (yaml, toml or json); changes are applied live"))
	root.PersistentFlags().String("log-level", "info", WrapString("log level (debug, info, warn, error)"))
	root.PersistentFlags().Bool("log-development", false, WrapString("human-readable development logging"))

	root.AddCommand(newServeCmd(), newConnectCmd(), newSendCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of netio",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "netio v%s\n", Version)
		},
	}
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

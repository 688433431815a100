// mcptool runs an MCP tool server over streamable HTTP or stdio, and
// ships a small client for exercising one.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:           "mcptool",
		Short:         "MCP tool server and client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newCallCmd())

	if err := root.Execute(); err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

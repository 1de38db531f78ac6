// Command birdwatch inspects raptorjit-style audit logs and VM profiles
// captured from a tracing JIT compiler: it replays an audit log into a
// queryable object graph of prototypes, traces and events, and joins VM
// profiles to it by timestamp.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "birdwatch",
	Short: "Post-mortem introspection for a tracing JIT compiler's audit logs",
	Long: `birdwatch replays a raptorjit-style audit log (msgpack records plus an
embedded ELF/DWARF blob) into prototypes, traces, bytecode and IR, and
joins VM profiles to it by timestamp.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(shellCmd)
}

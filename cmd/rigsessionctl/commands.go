package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dougsko/rigsession/pkg/client"
)

var (
	rootCmd = &cobra.Command{
		Use:   "rigsessionctl",
		Short: "Control a rigsessiond daemon over its unix socket.",
		Long: `rigsessionctl talks to rigsessiond over the line protocol.

Each invocation opens a fresh connection, so commands that need the lease
take the token printed by "rigsessionctl lease get" through --token.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

var socketPath string
var leaseToken string
var timeout time.Duration
var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/tmp/rigsession.sock", "Unix socket path")
	rootCmd.PersistentFlags().StringVarP(&leaseToken, "token", "t", os.Getenv("RIGSESSION_TOKEN"), "Lease token (defaults to $RIGSESSION_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Per command timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
}

func Execute() error {
	return rootCmd.Execute()
}

// newClient builds a socket client from the persistent flags
func newClient() *client.SocketClient {
	c := client.NewSocketClient(socketPath)
	c.SetTimeout(timeout)
	if leaseToken != "" {
		c.SetToken(leaseToken)
	}
	return c
}

// printJSON writes v indented to stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cmdRaw = &cobra.Command{
		Use:   "raw <command>",
		Short: "Send one line protocol command and print the response",
		Long: `Send one line protocol command verbatim, for example:

  rigsessionctl raw STATUS
  rigsessionctl raw FREQ:VFOA
  rigsessionctl --token $T raw MODE:VFOA:USB:2400`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRaw,
	}
)

func init() {
	rootCmd.AddCommand(cmdRaw)
}

func runRaw(_ *cobra.Command, args []string) error {
	resp, err := newClient().SendCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(resp.String())
	if !resp.Success {
		return resp.Err()
	}
	return nil
}

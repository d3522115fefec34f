package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cmdStatus = &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	cmdPing = &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}
)

func init() {
	rootCmd.AddCommand(cmdStatus)
	rootCmd.AddCommand(cmdPing)
}

func runStatus(_ *cobra.Command, _ []string) error {
	status, err := newClient().GetStatus()
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(status)
	}

	fmt.Printf("Connected:     %v\n", status.Connected)
	if status.Radio != nil {
		fmt.Printf("Radio:         %s\n", status.Radio.Model)
	}
	fmt.Printf("Lease held:    %v\n", status.LeaseHeld)
	if status.LeaseRenewed != nil {
		fmt.Printf("Lease renewed: %s\n", status.LeaseRenewed.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Require lease: %v\n", status.RequireLease)
	fmt.Printf("Current VFO:   %s\n", status.CurrentVFO)
	fmt.Printf("Cache (ms):    FREQ=%d MODE=%d WIDTH=%d\n",
		status.CacheTimeouts["FREQ"], status.CacheTimeouts["MODE"], status.CacheTimeouts["WIDTH"])
	fmt.Printf("Morse queue:   %d/%d bytes at %d wpm\n", status.QueueLen, status.QueueCap, status.KeyerWPM)
	fmt.Printf("Uptime:        %s\n", status.Uptime)
	return nil
}

func runPing(_ *cobra.Command, _ []string) error {
	if err := newClient().Ping(); err != nil {
		return err
	}
	fmt.Println("PONG")
	return nil
}

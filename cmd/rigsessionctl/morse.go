package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cmdMorse = &cobra.Command{
		Use:   "morse [text...]",
		Short: "Queue text for the keyer, read from stdin with -",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMorse,
	}

	cmdMorseStop = &cobra.Command{
		Use:   "stop",
		Short: "Abort queued and in progress morse",
		Args:  cobra.NoArgs,
		RunE:  runMorseStop,
	}
)

func init() {
	rootCmd.AddCommand(cmdMorse)
	cmdMorse.AddCommand(cmdMorseStop)
}

func runMorse(_ *cobra.Command, args []string) error {
	c := newClient()

	if len(args) == 1 && args[0] == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		total := 0
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			n, err := c.SendMorse(line + " ")
			if err != nil {
				return fmt.Errorf("queued %d bytes before failure: %w", total, err)
			}
			total += n
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		fmt.Printf("queued %d bytes\n", total)
		return nil
	}

	n, err := c.SendMorse(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Printf("queued %d bytes\n", n)
	return nil
}

func runMorseStop(_ *cobra.Command, _ []string) error {
	return newClient().StopMorse()
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cmdFreq = &cobra.Command{
		Use:   "freq [hz]",
		Short: "Get or set the frequency of a VFO",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFreq,
	}

	cmdMode = &cobra.Command{
		Use:   "mode [mode [width]]",
		Short: "Get or set the mode and passband of a VFO",
		Args:  cobra.MaximumNArgs(2),
		RunE:  runMode,
	}

	cmdPTT = &cobra.Command{
		Use:   "ptt [on|off]",
		Short: "Get or set push to talk",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPTT,
	}
)

var vfoName string

func init() {
	rootCmd.AddCommand(cmdFreq, cmdMode, cmdPTT)
	cmdFreq.Flags().StringVarP(&vfoName, "vfo", "v", "currVFO", "VFO to address")
	cmdMode.Flags().StringVarP(&vfoName, "vfo", "v", "currVFO", "VFO to address")
}

func runFreq(_ *cobra.Command, args []string) error {
	c := newClient()

	if len(args) == 1 {
		hz, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid frequency %q: %w", args[0], err)
		}
		return c.SetFrequency(vfoName, hz)
	}

	hz, cached, err := c.GetFrequency(vfoName)
	if err != nil {
		return err
	}
	source := "radio"
	if cached {
		source = "cache"
	}
	fmt.Printf("%d Hz (%.6f MHz, %s)\n", hz, float64(hz)/1e6, source)
	return nil
}

func runMode(_ *cobra.Command, args []string) error {
	c := newClient()

	if len(args) > 0 {
		width := 0
		if len(args) == 2 {
			w, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid width %q: %w", args[1], err)
			}
			width = w
		}
		return c.SetMode(vfoName, strings.ToUpper(args[0]), width)
	}

	mode, width, err := c.GetMode(vfoName)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d Hz\n", mode, width)
	return nil
}

func runPTT(_ *cobra.Command, args []string) error {
	c := newClient()

	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "on", "1", "true":
			return c.SetPTT(true)
		case "off", "0", "false":
			return c.SetPTT(false)
		default:
			return fmt.Errorf("invalid ptt state %q", args[0])
		}
	}

	on, err := c.GetPTT()
	if err != nil {
		return err
	}
	if on {
		fmt.Println("on")
	} else {
		fmt.Println("off")
	}
	return nil
}

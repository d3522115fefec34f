package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	cmdCache = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and tune the staleness cache",
	}

	cmdCacheShow = &cobra.Command{
		Use:   "show [vfo]",
		Short: "Show cached values and their age",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCacheShow,
	}

	cmdCacheTimeout = &cobra.Command{
		Use:   "timeout <FREQ|MODE|WIDTH|ALL> <ms>",
		Short: "Set a staleness window, -1 never expires",
		Args:  cobra.ExactArgs(2),
		RunE:  runCacheTimeout,
	}
)

func init() {
	rootCmd.AddCommand(cmdCache)
	cmdCache.AddCommand(cmdCacheShow, cmdCacheTimeout)
}

func runCacheShow(_ *cobra.Command, args []string) error {
	vfo := "currVFO"
	if len(args) == 1 {
		vfo = args[0]
	}

	snap, err := newClient().CacheSnapshot(vfo)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(snap)
	}

	age := func(ms int64) string {
		if ms < 0 {
			return "invalid"
		}
		return fmt.Sprintf("%d ms", ms)
	}
	fmt.Printf("%s\n", snap.VFO)
	fmt.Printf("  freq  %-12d %s\n", snap.Freq, age(snap.FreqAgeMS))
	fmt.Printf("  mode  %-12s %s\n", snap.Mode, age(snap.ModeAgeMS))
	fmt.Printf("  width %-12d %s\n", snap.Width, age(snap.WidthAgeMS))
	return nil
}

func runCacheTimeout(_ *cobra.Command, args []string) error {
	ms, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", args[1], err)
	}

	timeouts, err := newClient().SetCacheTimeout(args[0], ms)
	if err != nil {
		return err
	}
	fmt.Printf("FREQ=%d MODE=%d WIDTH=%d\n", timeouts["FREQ"], timeouts["MODE"], timeouts["WIDTH"])
	return nil
}

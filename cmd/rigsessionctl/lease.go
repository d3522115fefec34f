package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dougsko/rigsession/pkg/client"
	"github.com/dougsko/rigsession/pkg/rigerr"
)

var (
	cmdLease = &cobra.Command{
		Use:   "lease",
		Short: "Acquire, renew or release the session lease",
	}

	cmdLeaseGet = &cobra.Command{
		Use:   "get",
		Short: "Acquire the lease and print its token",
		Args:  cobra.NoArgs,
		RunE:  runLeaseGet,
	}

	cmdLeaseHold = &cobra.Command{
		Use:   "hold",
		Short: "Acquire the lease, renew it until interrupted, then release it",
		Args:  cobra.NoArgs,
		RunE:  runLeaseHold,
	}

	cmdLeaseRenew = &cobra.Command{
		Use:   "renew",
		Short: "Renew the lease named by --token",
		Args:  cobra.NoArgs,
		RunE:  runLeaseRenew,
	}

	cmdLeaseRelease = &cobra.Command{
		Use:   "release",
		Short: "Release the lease named by --token",
		Args:  cobra.NoArgs,
		RunE:  runLeaseRelease,
	}
)

var leaseWait time.Duration
var leaseInterval time.Duration

func init() {
	rootCmd.AddCommand(cmdLease)
	cmdLease.AddCommand(cmdLeaseGet, cmdLeaseHold, cmdLeaseRenew, cmdLeaseRelease)
	cmdLease.PersistentFlags().DurationVarP(&leaseWait, "wait", "w", 0, "Poll for a busy lease this long")
	cmdLeaseHold.Flags().DurationVarP(&leaseInterval, "interval", "i", time.Second, "Renew interval")
}

// acquire takes the lease, polling for up to --wait when it is busy
func acquire(ctx context.Context, c *client.SocketClient) (string, error) {
	if leaseWait <= 0 {
		return c.AcquireLease()
	}
	ctx, cancel := context.WithTimeout(ctx, leaseWait)
	defer cancel()
	return c.WaitForLease(ctx, 100*time.Millisecond)
}

func runLeaseGet(_ *cobra.Command, _ []string) error {
	token, err := acquire(context.Background(), newClient())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runLeaseHold(_ *cobra.Command, _ []string) error {
	c := newClient()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := acquire(ctx, c)
	if err != nil {
		return err
	}
	fmt.Println(token)

	errCh := c.StartHeartbeat(ctx, leaseInterval)
	for err := range errCh {
		if errors.Is(err, rigerr.ErrBusy) {
			return fmt.Errorf("lease lost: %w", err)
		}
		fmt.Fprintf(os.Stderr, "renew failed: %v\n", err)
	}

	if err := c.ReleaseLease(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func runLeaseRenew(_ *cobra.Command, _ []string) error {
	if leaseToken == "" {
		return fmt.Errorf("--token is required")
	}
	return newClient().RenewLease()
}

func runLeaseRelease(_ *cobra.Command, _ []string) error {
	if leaseToken == "" {
		return fmt.Errorf("--token is required")
	}
	return newClient().ReleaseLease()
}

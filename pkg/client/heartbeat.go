package client

import (
	"context"
	"errors"
	"time"

	"github.com/dougsko/rigsession/pkg/rigerr"
)

// WaitForLease polls GET every interval until the lease is granted, a
// non-busy error occurs or ctx ends
func (c *SocketClient) WaitForLease(ctx context.Context, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		token, err := c.AcquireLease()
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, rigerr.ErrBusy) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartHeartbeat renews the stored lease every interval until ctx is done.
// The returned channel carries transient errors without blocking, and a
// final ErrBusy when the lease is no longer ours, then closes.
func (c *SocketClient) StartHeartbeat(ctx context.Context, interval time.Duration) <-chan error {
	errCh := make(chan error, 1)
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(errCh)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := c.RenewLease()
				if err == nil {
					continue
				}
				if errors.Is(err, rigerr.ErrBusy) {
					errCh <- err
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return errCh
}

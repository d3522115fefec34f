package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rigsession/pkg/fifo"
	"github.com/dougsko/rigsession/pkg/hardware"
	"github.com/dougsko/rigsession/pkg/morse"
)

func newTestKeyer(t *testing.T, config KeyerConfig) (*Keyer, *fifo.Queue, *hardware.MockRadio) {
	t.Helper()
	radio := hardware.NewMockRadio(hardware.RadioConfig{Model: "Dummy"})
	require.NoError(t, radio.Initialize())
	queue := fifo.New(64)
	return NewKeyer(queue, radio, config), queue, radio
}

func TestKeyerDefaults(t *testing.T) {
	k, _, _ := newTestKeyer(t, KeyerConfig{})
	config := k.Config()
	assert.Equal(t, 250*time.Millisecond, config.Interval)
	assert.Equal(t, 8, config.ChunkSize)
	assert.Equal(t, morse.DefaultWPM, config.WPM)

	k.SetConfig(KeyerConfig{Interval: time.Second, ChunkSize: 3, WPM: 30})
	assert.Equal(t, KeyerConfig{Interval: time.Second, ChunkSize: 3, WPM: 30}, k.Config())
}

func TestKeyerPacing(t *testing.T) {
	k, queue, radio := newTestKeyer(t, KeyerConfig{ChunkSize: 5, WPM: 20, Paced: true})
	require.NoError(t, queue.PushString("PARISPARIS"))

	start := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	k.tick(start)
	assert.Equal(t, []string{"PARIS"}, radio.Keyed())

	keyTime := morse.Duration("PARIS", 20)
	k.tick(start.Add(keyTime - time.Millisecond))
	assert.Len(t, radio.Keyed(), 1, "next chunk waits for the previous one to finish")

	k.tick(start.Add(keyTime))
	assert.Equal(t, []string{"PARIS", "PARIS"}, radio.Keyed())
}

func TestKeyerFlushClearsPacing(t *testing.T) {
	k, queue, radio := newTestKeyer(t, KeyerConfig{ChunkSize: 8, Paced: true})
	require.NoError(t, queue.PushString("CQ CQ CQ DE"))

	now := time.Now()
	k.tick(now)
	queue.Reset()
	require.NoError(t, queue.PushString("K"))

	k.tick(now.Add(time.Millisecond))
	assert.Equal(t, []string{"CQ CQ CQ", "K"}, radio.Keyed())
}

func TestKeyerReportsErrors(t *testing.T) {
	k, queue, radio := newTestKeyer(t, KeyerConfig{ChunkSize: 4})

	var reported error
	var chunks []string
	k.onKeyed = func(chunk []byte, err error) {
		chunks = append(chunks, string(chunk))
		reported = err
	}

	require.NoError(t, queue.PushString("TEST"))
	radio.FailNext(errors.New("keyer jammed"))
	k.tick(time.Now())

	assert.EqualError(t, reported, "keyer jammed")
	assert.Equal(t, []string{"TEST"}, chunks)
	assert.Equal(t, 0, queue.Len(), "failed chunks are not retried")

	k.tick(time.Now())
	assert.Len(t, chunks, 1, "empty queue does not reach the radio")
	assert.Equal(t, 1, radio.Calls("send_morse"))
}

func TestKeyerRun(t *testing.T) {
	k, queue, radio := newTestKeyer(t, KeyerConfig{Interval: 5 * time.Millisecond, ChunkSize: 16})
	require.NoError(t, queue.PushString("73 TU"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return radio.KeyedText() == "73 TU"
	}, 2*time.Second, 5*time.Millisecond)

	k.SetConfig(KeyerConfig{Interval: 10 * time.Millisecond, ChunkSize: 16})
	require.NoError(t, queue.PushString("EE"))
	require.Eventually(t, func() bool {
		return radio.KeyedText() == "73 TUEE"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keyer did not stop")
	}
}

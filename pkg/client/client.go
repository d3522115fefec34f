package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/protocol"
	"github.com/dougsko/rigsession/pkg/session"
)

// SocketClient talks to the session engine. Every call opens a fresh
// connection; a stored token is presented with AUTH first.
type SocketClient struct {
	socketPath string
	timeout    time.Duration

	mutex sync.Mutex
	token string
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the per call deadline
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetToken stores the lease token presented on later calls
func (c *SocketClient) SetToken(token string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.token = token
}

// Token returns the stored lease token
func (c *SocketClient) Token() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.token
}

// SendCommand sends a command and returns the response. Only transport
// failures are returned as errors.
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))
	scanner := bufio.NewScanner(conn)

	if token := c.Token(); token != "" {
		resp, err := roundTrip(conn, scanner, "AUTH:"+token)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return resp, nil
		}
	}

	return roundTrip(conn, scanner, cmd)
}

func roundTrip(conn net.Conn, scanner *bufio.Scanner, cmd string) (*protocol.Response, error) {
	if strings.ContainsAny(cmd, "\r\n") {
		return nil, fmt.Errorf("command contains a line break")
	}
	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &response, nil
}

// call sends cmd and converts an engine failure into an error
func (c *SocketClient) call(cmd string) (map[string]interface{}, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// decode converts one response field into dst
func decode(data map[string]interface{}, key string, dst interface{}) error {
	value, ok := data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call(protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}

// GetStatus gets the session status
func (c *SocketClient) GetStatus() (*session.Status, error) {
	data, err := c.call(protocol.CmdStatus)
	if err != nil {
		return nil, err
	}
	var status session.Status
	if err := decode(data, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AcquireLease requests the lease and stores the granted token
func (c *SocketClient) AcquireLease() (string, error) {
	data, err := c.call("LEASE:GET")
	if err != nil {
		return "", err
	}
	var token string
	if err := decode(data, "token", &token); err != nil {
		return "", err
	}
	c.SetToken(token)
	return token, nil
}

// RenewLease refreshes the stored lease
func (c *SocketClient) RenewLease() error {
	_, err := c.call("LEASE:RENEW:" + c.Token())
	return err
}

// ReleaseLease gives the stored lease up and forgets the token
func (c *SocketClient) ReleaseLease() error {
	if _, err := c.call("LEASE:RELEASE:" + c.Token()); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

// GetFrequency reads the frequency of vfo. The bool reports a cache hit.
func (c *SocketClient) GetFrequency(vfo string) (int64, bool, error) {
	data, err := c.call(fmt.Sprintf("FREQ:%s", vfo))
	if err != nil {
		return 0, false, err
	}
	var freq int64
	var cached bool
	if err := decode(data, "freq", &freq); err != nil {
		return 0, false, err
	}
	if err := decode(data, "cached", &cached); err != nil {
		return 0, false, err
	}
	return freq, cached, nil
}

// SetFrequency tunes vfo to hz
func (c *SocketClient) SetFrequency(vfo string, hz int64) error {
	_, err := c.call(fmt.Sprintf("FREQ:%s:%d", vfo, hz))
	return err
}

// GetMode reads mode and passband of vfo
func (c *SocketClient) GetMode(vfo string) (string, int, error) {
	data, err := c.call(fmt.Sprintf("MODE:%s", vfo))
	if err != nil {
		return "", 0, err
	}
	var mode string
	var width int
	if err := decode(data, "mode", &mode); err != nil {
		return "", 0, err
	}
	if err := decode(data, "width", &width); err != nil {
		return "", 0, err
	}
	return mode, width, nil
}

// SetMode sets mode and passband of vfo; width 0 keeps the passband
func (c *SocketClient) SetMode(vfo, mode string, width int) error {
	_, err := c.call(fmt.Sprintf("MODE:%s:%s:%d", vfo, mode, width))
	return err
}

// SetPTT keys or unkeys the transmitter
func (c *SocketClient) SetPTT(on bool) error {
	state := 0
	if on {
		state = 1
	}
	_, err := c.call(fmt.Sprintf("PTT:%d", state))
	return err
}

// GetPTT reads the transmit state
func (c *SocketClient) GetPTT() (bool, error) {
	data, err := c.call(protocol.CmdPTT)
	if err != nil {
		return false, err
	}
	var on bool
	err = decode(data, "ptt", &on)
	return on, err
}

// SetCacheTimeout changes the staleness window of class in milliseconds
func (c *SocketClient) SetCacheTimeout(class string, ms int) (map[string]int, error) {
	data, err := c.call(fmt.Sprintf("CACHE:TIMEOUT:%s:%d", class, ms))
	if err != nil {
		return nil, err
	}
	var timeouts map[string]int
	err = decode(data, "timeouts", &timeouts)
	return timeouts, err
}

// CacheSnapshot returns the cached state of vfo
func (c *SocketClient) CacheSnapshot(vfo string) (*cache.Snapshot, error) {
	data, err := c.call(fmt.Sprintf("CACHE:SHOW:%s", vfo))
	if err != nil {
		return nil, err
	}
	var snap cache.Snapshot
	if err := decode(data, "cache", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// the queue drops line breaks anyway
var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

// SendMorse queues text for the keyer and returns the accepted byte count
func (c *SocketClient) SendMorse(text string) (int, error) {
	data, err := c.call("MORSE:" + lineBreaks.Replace(text))
	if err != nil {
		return 0, err
	}
	var queued int
	err = decode(data, "queued", &queued)
	return queued, err
}

// StopMorse aborts queued and in progress keying
func (c *SocketClient) StopMorse() error {
	_, err := c.call("MORSE:" + protocol.MorseStop)
	return err
}

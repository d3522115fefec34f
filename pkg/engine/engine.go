package engine

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/lease"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/protocol"
	"github.com/dougsko/rigsession/pkg/rigerr"
	"github.com/dougsko/rigsession/pkg/session"
)

// maxLineSize bounds one command line; MORSE text is the longest payload
const maxLineSize = 64 * 1024

// Engine serves the line protocol on a unix socket so that many processes
// share one session
type Engine struct {
	session    *session.Session
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time

	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// connState is the per connection authentication state
type connState struct {
	token lease.Token
}

// NewEngine creates an engine for sess listening on socketPath
func NewEngine(sess *session.Session, socketPath string) *Engine {
	return &Engine{
		session:    sess,
		socketPath: socketPath,
		startTime:  time.Now(),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start creates the unix socket and accepts connections in the background
func (e *Engine) Start() error {
	// Remove a stale socket left by a previous run
	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}

	// Readable/writable by owner and group
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "failed to set socket permissions: %v", err)
	}

	e.mutex.Lock()
	e.listener = listener
	e.running = true
	e.mutex.Unlock()

	logging.Infof("engine", "listening on %s", e.socketPath)

	e.wg.Add(1)
	go e.acceptConnections(listener)
	return nil
}

// Stop closes the listener and every open connection
func (e *Engine) Stop() error {
	e.mutex.Lock()
	e.running = false
	listener := e.listener
	e.listener = nil
	for conn := range e.conns {
		conn.Close()
	}
	e.mutex.Unlock()

	if listener != nil {
		listener.Close()
	}
	e.wg.Wait()

	os.Remove(e.socketPath)
	return nil
}

// Connections returns the number of open client connections
func (e *Engine) Connections() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return len(e.conns)
}

func (e *Engine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// acceptConnections accepts and handles socket connections
func (e *Engine) acceptConnections(listener net.Listener) {
	defer e.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !e.isRunning() {
				return
			}
			logging.Warnf("engine", "socket accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		e.mutex.Lock()
		if !e.running {
			e.mutex.Unlock()
			conn.Close()
			return
		}
		e.conns[conn] = struct{}{}
		e.mutex.Unlock()

		e.wg.Add(1)
		go e.handleConnection(conn)
	}
}

// handleConnection serves one client until QUIT or EOF
func (e *Engine) handleConnection(conn net.Conn) {
	defer e.wg.Done()
	defer func() {
		e.mutex.Lock()
		delete(e.conns, conn)
		e.mutex.Unlock()
		conn.Close()
	}()

	state := &connState{}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		var response *protocol.Response
		if err != nil {
			response = protocol.NewFailure(err)
		} else {
			response = e.execute(state, cmd)
		}

		if _, err := conn.Write([]byte(response.String() + "\n")); err != nil {
			logging.Debugf("engine", "client write failed: %v", err)
			return
		}

		if cmd != nil && cmd.Type == protocol.CmdQuit {
			break
		}
	}

	if state.token != "" && e.session.RequireLease() {
		if holder, _, held := e.session.LeaseHolder(); held && holder == state.token {
			logging.Warn("engine", "client disconnected while holding the lease")
		}
	}
}

// Execute runs one command line on behalf of token. Connection scoped
// state such as AUTH does not persist between calls.
func (e *Engine) Execute(token lease.Token, line string) *protocol.Response {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return protocol.NewFailure(err)
	}
	return e.execute(&connState{token: token}, cmd)
}

// execute processes a single command
func (e *Engine) execute(state *connState, cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdLease:
		return e.handleLease(state, cmd)

	case protocol.CmdAuth:
		state.token = lease.Token(cmd.Args["token"])
		holder, _, _ := e.session.LeaseHolder()
		return protocol.NewSuccessResponse(map[string]interface{}{
			"holder": state.token != "" && holder == state.token,
		})

	case protocol.CmdFreq:
		return e.handleFreq(state, cmd)

	case protocol.CmdMode:
		return e.handleMode(state, cmd)

	case protocol.CmdPTT:
		return e.handlePTT(state, cmd)

	case protocol.CmdVFO:
		return e.handleVFO(state, cmd)

	case protocol.CmdCache:
		return e.handleCache(state, cmd)

	case protocol.CmdMorse:
		return e.handleMorse(state, cmd)

	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": e.session.Status(),
			"engine": map[string]interface{}{
				"connections": e.Connections(),
				"uptime":      time.Since(e.startTime).Round(time.Second).String(),
				"socket":      e.socketPath,
			},
		})

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (e *Engine) handleLease(state *connState, cmd *protocol.Command) *protocol.Response {
	op, err := lease.ParseOp(cmd.Args["op"])
	if err != nil {
		return protocol.NewFailure(err)
	}

	token := lease.Token(cmd.Args["token"])
	if token == "" {
		token = state.token
	}

	switch op {
	case lease.OpGet:
		granted, err := e.session.AcquireLease()
		if err != nil {
			return protocol.NewFailure(err)
		}
		state.token = granted
		return protocol.NewSuccessResponse(map[string]interface{}{"token": string(granted)})

	case lease.OpRenew:
		if err := e.session.RenewLease(token); err != nil {
			return protocol.NewFailure(err)
		}

	case lease.OpRelease:
		if err := e.session.ReleaseLease(token); err != nil {
			return protocol.NewFailure(err)
		}
		if state.token == token {
			state.token = ""
		}
	}

	return protocol.NewSuccessResponse(map[string]interface{}{"op": op.String()})
}

func parseVFO(cmd *protocol.Command) (cache.VFO, error) {
	return cache.ParseVFO(cmd.Args["vfo"])
}

func (e *Engine) handleFreq(state *connState, cmd *protocol.Command) *protocol.Response {
	vfo, err := parseVFO(cmd)
	if err != nil {
		return protocol.NewFailure(err)
	}

	if cmd.Has("hz") {
		hz, err := cmd.Int("hz")
		if err != nil {
			return protocol.NewFailure(err)
		}
		if err := e.session.SetFrequency(state.token, vfo, hz); err != nil {
			return protocol.NewFailure(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"vfo": vfo.String(), "freq": hz})
	}

	freq, hit, err := e.session.GetFrequency(vfo)
	if err != nil {
		return protocol.NewFailure(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"vfo":    vfo.String(),
		"freq":   freq,
		"cached": hit,
	})
}

func (e *Engine) handleMode(state *connState, cmd *protocol.Command) *protocol.Response {
	vfo, err := parseVFO(cmd)
	if err != nil {
		return protocol.NewFailure(err)
	}

	if cmd.Has("mode") {
		var width int64
		if cmd.Has("width") {
			if width, err = cmd.Int("width"); err != nil {
				return protocol.NewFailure(err)
			}
		}
		if err := e.session.SetMode(state.token, vfo, cmd.Args["mode"], int(width)); err != nil {
			return protocol.NewFailure(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"vfo":   vfo.String(),
			"mode":  cmd.Args["mode"],
			"width": width,
		})
	}

	mode, width, hit, err := e.session.GetMode(vfo)
	if err != nil {
		return protocol.NewFailure(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"vfo":    vfo.String(),
		"mode":   mode,
		"width":  width,
		"cached": hit,
	})
}

func (e *Engine) handlePTT(state *connState, cmd *protocol.Command) *protocol.Response {
	if cmd.Has("state") {
		on, err := cmd.Bool("state")
		if err != nil {
			return protocol.NewFailure(err)
		}
		if err := e.session.SetPTT(state.token, on); err != nil {
			return protocol.NewFailure(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"ptt": on})
	}

	on, err := e.session.GetPTT()
	if err != nil {
		return protocol.NewFailure(err)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"ptt": on})
}

func (e *Engine) handleVFO(state *connState, cmd *protocol.Command) *protocol.Response {
	if cmd.Has("vfo") {
		vfo, err := parseVFO(cmd)
		if err != nil {
			return protocol.NewFailure(err)
		}
		if err := e.session.SetCurrentVFO(state.token, vfo); err != nil {
			return protocol.NewFailure(err)
		}
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"vfo": e.session.Cache().CurrentVFO().String(),
	})
}

func (e *Engine) handleCache(state *connState, cmd *protocol.Command) *protocol.Response {
	switch cmd.Args["action"] {
	case protocol.CacheTimeout:
		class, err := cache.ParseClass(cmd.Args["class"])
		if err != nil {
			return protocol.NewFailure(err)
		}

		if cmd.Has("ms") {
			ms, err := cmd.Int("ms")
			if err != nil {
				return protocol.NewFailure(err)
			}
			if err := e.session.SetCacheTimeout(state.token, class, int(ms)); err != nil {
				return protocol.NewFailure(err)
			}
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"timeouts": e.session.Cache().Timeouts(),
		})

	case protocol.CacheShow:
		vfo, err := parseVFO(cmd)
		if err != nil {
			return protocol.NewFailure(err)
		}
		snap, err := e.session.CacheSnapshot(vfo)
		if err != nil {
			return protocol.NewFailure(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"cache": snap})

	case protocol.CacheStats:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"stats": e.session.Cache().Stats(),
		})

	default:
		return protocol.NewFailure(fmt.Errorf("unknown cache action %q: %w", cmd.Args["action"], rigerr.ErrProtocol))
	}
}

func (e *Engine) handleMorse(state *connState, cmd *protocol.Command) *protocol.Response {
	if cmd.Args["action"] == protocol.MorseStop {
		if err := e.session.AbortMorse(state.token); err != nil {
			return protocol.NewFailure(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"status": "aborted"})
	}

	text := cmd.Args["text"]
	if text == "" {
		return protocol.NewFailure(fmt.Errorf("morse text cannot be empty: %w", rigerr.ErrInvalidArgument))
	}

	queued, err := e.session.SendMorse(state.token, text)
	if err != nil {
		return protocol.NewFailure(err)
	}
	logging.Debugf("engine", "morse queued %d bytes", queued)
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status":    "queued",
		"queued":    queued,
		"queue_len": e.session.QueueLen(),
	})
}

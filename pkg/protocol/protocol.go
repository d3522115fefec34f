package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dougsko/rigsession/pkg/rigerr"
)

// Command represents a command sent to the session engine
type Command struct {
	Type string            `json:"type"`
	Args map[string]string `json:"args,omitempty"`
}

// Response represents a response from the session engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

// Protocol commands
const (
	CmdLease  = "LEASE"
	CmdAuth   = "AUTH"
	CmdFreq   = "FREQ"
	CmdMode   = "MODE"
	CmdPTT    = "PTT"
	CmdVFO    = "VFO"
	CmdCache  = "CACHE"
	CmdMorse  = "MORSE"
	CmdStatus = "STATUS"
	CmdPing   = "PING"
	CmdQuit   = "QUIT"
)

// Sub actions
const (
	CacheTimeout = "TIMEOUT"
	CacheShow    = "SHOW"
	CacheStats   = "STATS"
	MorseStop    = "STOP"
)

// ParseCommand parses a text command into a Command struct. Missing
// mandatory fields yield rigerr.ErrProtocol; unknown commands parse without args.
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]string),
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("empty command: %w", rigerr.ErrProtocol)
	}

	args := ""
	if len(parts) > 1 {
		args = parts[1]
	}

	switch cmd.Type {
	case CmdLease:
		// LEASE:GET, LEASE:RENEW:<token>, LEASE:RELEASE:<token>
		leaseParts := strings.SplitN(args, ":", 2)
		if leaseParts[0] == "" {
			return nil, fmt.Errorf("LEASE needs an op: %w", rigerr.ErrProtocol)
		}
		cmd.Args["op"] = strings.ToUpper(leaseParts[0])
		if len(leaseParts) > 1 {
			cmd.Args["token"] = leaseParts[1]
		}

	case CmdAuth:
		// AUTH:<token>, AUTH: clears
		cmd.Args["token"] = args

	case CmdFreq:
		// FREQ, FREQ:VFOA, FREQ:VFOA:14074000
		setPositional(cmd.Args, args, "vfo", "hz")

	case CmdMode:
		// MODE:VFOA:USB:2400
		setPositional(cmd.Args, args, "vfo", "mode", "width")

	case CmdPTT:
		// PTT, PTT:1
		setPositional(cmd.Args, args, "state")

	case CmdVFO:
		// VFO, VFO:VFOB
		setPositional(cmd.Args, args, "vfo")

	case CmdCache:
		// CACHE:TIMEOUT:FREQ:250, CACHE:SHOW:VFOA, CACHE:STATS
		cacheParts := strings.SplitN(args, ":", 2)
		action := strings.ToUpper(cacheParts[0])
		rest := ""
		if len(cacheParts) > 1 {
			rest = cacheParts[1]
		}
		cmd.Args["action"] = action

		switch action {
		case CacheTimeout:
			setPositional(cmd.Args, rest, "class", "ms")
			if cmd.Args["class"] == "" {
				return nil, fmt.Errorf("CACHE:TIMEOUT needs a class: %w", rigerr.ErrProtocol)
			}
		case CacheShow:
			setPositional(cmd.Args, rest, "vfo")
		case CacheStats:
		default:
			return nil, fmt.Errorf("unknown cache action %q: %w", action, rigerr.ErrProtocol)
		}

	case CmdMorse:
		// MORSE:<text> keeps the text verbatim; MORSE:STOP aborts
		if strings.EqualFold(args, MorseStop) {
			cmd.Args["action"] = MorseStop
		} else {
			cmd.Args["text"] = args
		}
	}

	return cmd, nil
}

// setPositional assigns colon separated fields to names. Extra fields are
// folded into the last name.
func setPositional(dst map[string]string, args string, names ...string) {
	if args == "" {
		return
	}
	fields := strings.SplitN(args, ":", len(names))
	for i, field := range fields {
		if field != "" {
			dst[names[i]] = field
		}
	}
}

// Has reports whether the argument was supplied
func (c *Command) Has(name string) bool {
	_, ok := c.Args[name]
	return ok
}

// Int parses an integer argument
func (c *Command) Int(name string) (int64, error) {
	value, ok := c.Args[name]
	if !ok {
		return 0, fmt.Errorf("missing %s: %w", name, rigerr.ErrProtocol)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer: %w", name, value, rigerr.ErrInvalidArgument)
	}
	return n, nil
}

// Bool parses an on/off argument (1/0, on/off, true/false)
func (c *Command) Bool(name string) (bool, error) {
	switch strings.ToLower(c.Args[name]) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("%s %q is not a boolean: %w", name, c.Args[name], rigerr.ErrInvalidArgument)
	}
}

// String converts a Response to its JSON wire form
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Err rebuilds an error carrying the response code so callers can match it
// with errors.Is against the rigerr sentinels
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	return &RemoteError{Code: r.Code, Message: r.Error}
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
		Code:    rigerr.CodeProtocol,
	}
}

// NewFailure creates an error response coded from err
func NewFailure(err error) *Response {
	return &Response{
		Success: false,
		Error:   err.Error(),
		Code:    rigerr.Code(err),
	}
}

// RemoteError is an error reported by the engine
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap maps the wire code back onto its sentinel
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case rigerr.CodeInvalidArgument:
		return rigerr.ErrInvalidArgument
	case rigerr.CodeProtocol:
		return rigerr.ErrProtocol
	case rigerr.CodeBusy:
		return rigerr.ErrBusy
	case rigerr.CodeOverflow:
		return rigerr.ErrOverflow
	case rigerr.CodeMiss:
		return rigerr.ErrMiss
	default:
		return nil
	}
}

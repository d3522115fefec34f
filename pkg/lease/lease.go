package lease

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/rigsession/pkg/clock"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/rigerr"
)

// Op selects a lease operation for the buffer based Cookie call
type Op int

const (
	OpGet Op = iota
	OpRelease
	OpRenew
)

// String returns string representation of the op
func (o Op) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpRenew:
		return "RENEW"
	case OpRelease:
		return "RELEASE"
	default:
		return fmt.Sprintf("OP(%d)", int(o))
	}
}

// ParseOp parses a wire op name
func ParseOp(name string) (Op, error) {
	switch strings.ToUpper(name) {
	case "GET":
		return OpGet, nil
	case "RENEW":
		return OpRenew, nil
	case "RELEASE":
		return OpRelease, nil
	default:
		return -1, fmt.Errorf("unknown lease op %q: %w", name, rigerr.ErrProtocol)
	}
}

const (
	// MinTokenSize is the smallest buffer GET will write a token into
	MinTokenSize = 27
	// TokenSize is the recommended token buffer size
	TokenSize = 64
)

// Token is an opaque exclusivity token
type Token string

// TokenSource mints candidate tokens. Tokens longer than MinTokenSize are rejected.
type TokenSource interface {
	NewToken(now time.Time) Token
}

// UUIDSource builds tokens from a UTC timestamp and random uuid bits
type UUIDSource struct{}

// NewToken returns a MinTokenSize byte token
func (UUIDSource) NewToken(now time.Time) Token {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return Token(now.UTC().Format("20060102150405") + "-" + id[:12])
}

// Event describes the outcome of a lease operation
type Event struct {
	Op    Op
	Token Token
	Err   error
	At    time.Time
}

// Observer receives lease events after the arbitrator lock is released
type Observer func(Event)

// maxMintAttempts bounds retries against a token source that repeats itself
const maxMintAttempts = 8

// Arbitrator owns the single lease slot of a session
type Arbitrator struct {
	mutex    sync.Mutex
	clock    clock.Clock
	source   TokenSource
	observer Observer

	holder    Token
	grantedAt time.Time
	renewedAt time.Time
	last      Token
}

// NewArbitrator creates an arbitrator. Nil collaborators select the defaults.
func NewArbitrator(clk clock.Clock, source TokenSource) *Arbitrator {
	if clk == nil {
		clk = clock.System
	}
	if source == nil {
		source = UUIDSource{}
	}
	return &Arbitrator{
		clock:  clk,
		source: source,
	}
}

// SetObserver installs a callback for every lease operation
func (a *Arbitrator) SetObserver(observer Observer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.observer = observer
}

// Acquire grants the lease when nobody holds it. A held lease yields ErrBusy,
// including when the holder itself asks again.
func (a *Arbitrator) Acquire() (Token, error) {
	a.mutex.Lock()
	now := a.clock.Now()

	if a.holder != "" {
		since := a.grantedAt.Format(time.RFC3339)
		a.mutex.Unlock()
		err := fmt.Errorf("lease held since %s: %w", since, rigerr.ErrBusy)
		a.notify(Event{Op: OpGet, Err: err, At: now})
		return "", err
	}

	token, err := a.mintLocked(now)
	if err != nil {
		a.mutex.Unlock()
		a.notify(Event{Op: OpGet, Err: err, At: now})
		return "", err
	}

	a.holder = token
	a.grantedAt = now
	a.renewedAt = now
	a.mutex.Unlock()

	logging.Debugf("lease", "granted %s", token)
	a.notify(Event{Op: OpGet, Token: token, At: now})
	return token, nil
}

// Renew refreshes the freshness timestamp of the held lease
func (a *Arbitrator) Renew(token Token) error {
	a.mutex.Lock()
	now := a.clock.Now()

	if token == "" || token != a.holder {
		a.mutex.Unlock()
		err := fmt.Errorf("renew of non-held token: %w", rigerr.ErrBusy)
		a.notify(Event{Op: OpRenew, Token: token, Err: err, At: now})
		return err
	}

	a.renewedAt = now
	a.mutex.Unlock()

	a.notify(Event{Op: OpRenew, Token: token, At: now})
	return nil
}

// Release clears the holder when token matches it. A stale or foreign token
// is rejected with ErrBusy and leaves the lease untouched.
func (a *Arbitrator) Release(token Token) error {
	a.mutex.Lock()
	now := a.clock.Now()

	if token == "" || token != a.holder {
		a.mutex.Unlock()
		err := fmt.Errorf("release of non-held token: %w", rigerr.ErrBusy)
		a.notify(Event{Op: OpRelease, Token: token, Err: err, At: now})
		return err
	}

	a.last = a.holder
	a.holder = ""
	a.grantedAt = time.Time{}
	a.renewedAt = time.Time{}
	a.mutex.Unlock()

	logging.Debugf("lease", "released %s", token)
	a.notify(Event{Op: OpRelease, Token: token, At: now})
	return nil
}

// Cookie runs op against a caller supplied buffer. GET writes the token
// NUL padded into buf; RENEW and RELEASE read it up to the first NUL.
// An unknown op is ErrProtocol even when buf is also unusable.
func (a *Arbitrator) Cookie(op Op, buf []byte) error {
	switch op {
	case OpGet, OpRenew, OpRelease:
	default:
		return fmt.Errorf("unknown cookie op %d: %w", int(op), rigerr.ErrProtocol)
	}
	if buf == nil {
		return fmt.Errorf("nil cookie buffer: %w", rigerr.ErrInvalidArgument)
	}

	switch op {
	case OpGet:
		if len(buf) < MinTokenSize {
			return fmt.Errorf("cookie buffer %d bytes, need %d: %w",
				len(buf), MinTokenSize, rigerr.ErrInvalidArgument)
		}
		token, err := a.Acquire()
		if err != nil {
			return err
		}
		n := copy(buf, token)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return nil

	case OpRenew:
		return a.Renew(tokenFromBuffer(buf))

	case OpRelease:
		return a.Release(tokenFromBuffer(buf))
	}
	return nil
}

// Holder returns the current token and when it was last renewed
func (a *Arbitrator) Holder() (Token, time.Time, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.holder, a.renewedAt, a.holder != ""
}

// IsHolder reports whether token is the live lease
func (a *Arbitrator) IsHolder(token Token) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return token != "" && token == a.holder
}

// mintLocked must be called with the mutex held
func (a *Arbitrator) mintLocked(now time.Time) (Token, error) {
	for i := 0; i < maxMintAttempts; i++ {
		token := a.source.NewToken(now)
		if len(token) == 0 || len(token) > MinTokenSize {
			return "", fmt.Errorf("token source produced %d byte token", len(token))
		}
		if token != a.last {
			return token, nil
		}
	}
	return "", fmt.Errorf("token source repeated the previous token %d times", maxMintAttempts)
}

func (a *Arbitrator) notify(ev Event) {
	a.mutex.Lock()
	observer := a.observer
	a.mutex.Unlock()

	if observer != nil {
		observer(ev)
	}
}

func tokenFromBuffer(buf []byte) Token {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return Token(buf)
}

package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/google/uuid"
)

// State represents where a connection is in the protocol.
type State int

// Set of connection states.
const (
	StateBeforeHandshake State = iota
	StateSyncRequired
	StateSynchronizing
	StatePoolSyncRequired
	StateNormal
	StateIdle
	StateShutdown
)

var stateNames = [...]string{
	StateBeforeHandshake:  "before_handshake",
	StateSyncRequired:     "sync_required",
	StateSynchronizing:    "synchronizing",
	StatePoolSyncRequired: "pool_sync_required",
	StateNormal:           "normal",
	StateIdle:             "idle",
	StateShutdown:         "shutdown",
}

// String implements the fmt.Stringer interface.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *State) UnmarshalText(data []byte) error {
	for i, name := range stateNames {
		if name == string(data) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", data)
}

// =============================================================================

// Info is a snapshot of the public part of a connection.
type Info struct {
	ID           uuid.UUID `json:"id"`
	Host         string    `json:"host"`
	Inbound      bool      `json:"inbound"`
	Version      uint8     `json:"version"`
	State        State     `json:"state"`
	RemoteHeight uint32    `json:"remote_height"`
}

// pendingLiteBlock is a lite block waiting for the transactions requested
// from its relayer.
type pendingLiteBlock struct {
	msg    NewLiteBlock
	missed map[database.Hash]struct{}
}

// Context is the protocol state of one connection. The sync bookkeeping is
// owned by the goroutine reading the connection and must not be touched by
// anyone else. The state, version and remote height are readable from any
// goroutine.
type Context struct {
	ID      uuid.UUID
	Host    string
	Inbound bool

	mu           sync.RWMutex
	version      uint8
	state        State
	remoteHeight uint32
	awaiting     time.Time

	neededObjects      []database.Hash
	requestedObjects   map[database.Hash]struct{}
	lastResponseHeight uint32
	pendingLiteBlock   *pendingLiteBlock
}

// NewContext constructs the context of a new connection.
func NewContext(id uuid.UUID, host string, inbound bool) *Context {
	return &Context{
		ID:               id,
		Host:             host,
		Inbound:          inbound,
		requestedObjects: make(map[database.Hash]struct{}),
	}
}

// String implements the fmt.Stringer interface.
func (ctx *Context) String() string {
	return fmt.Sprintf("%s[%s]", ctx.Host, ctx.ID)
}

// Info returns a snapshot of the connection.
func (ctx *Context) Info() Info {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return Info{
		ID:           ctx.ID,
		Host:         ctx.Host,
		Inbound:      ctx.Inbound,
		Version:      ctx.version,
		State:        ctx.state,
		RemoteHeight: ctx.remoteHeight,
	}
}

// State returns the protocol state of the connection.
func (ctx *Context) State() State {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.state
}

// RemoteHeight returns the last chain height the peer claimed.
func (ctx *Context) RemoteHeight() uint32 {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.remoteHeight
}

// AwaitingSince returns when the outstanding sync request was sent. The
// boolean is false when no response is expected.
func (ctx *Context) AwaitingSince() (time.Time, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.awaiting, !ctx.awaiting.IsZero()
}

func (ctx *Context) setState(state State) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.state = state
}

func (ctx *Context) setVersion(version uint8) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.version = version
}

func (ctx *Context) setRemoteHeight(height uint32) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.remoteHeight = height
}

func (ctx *Context) setAwaiting(t time.Time) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.awaiting = t
}

// resetSync forgets every object the connection was fetching.
func (ctx *Context) resetSync() {
	ctx.neededObjects = nil
	clear(ctx.requestedObjects)
	ctx.pendingLiteBlock = nil
	ctx.setAwaiting(time.Time{})
}

// Package p2p carries the node to node protocol over websocket connections.
// Every frame is a binary message holding the command id followed by the
// encoded payload.
package p2p

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Set of errors returned by the server.
var (
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrTooManyConnections = errors.New("too many connections")
	ErrQueueFull          = errors.New("send queue full")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrShutdown           = errors.New("server shutting down")
)

// Set of default values for the server configuration.
const (
	DefaultMaxConnections    = 64
	DefaultSyncTimeout       = time.Minute
	DefaultTimedSyncInterval = time.Minute
)

const (
	frameHeaderSize = 4
	sendQueueSize   = 256
	writeWait       = 10 * time.Second
	pongWait        = 90 * time.Second
	pingPeriod      = pongWait * 9 / 10
	maxFrameSize    = protocol.MaxBlockBlobSize + frameHeaderSize
)

// Path is the route peers connect to.
const Path = "/v1/p2p"

// EventHandler defines a function that is called when events occur in the
// processing of connections.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to start the server.
type Config struct {
	Handler           *protocol.Handler
	Peers             *peer.PeerSet
	NodeID            string
	Host              string
	MaxConnections    int
	LiteBlocks        bool
	SyncTimeout       time.Duration
	TimedSyncInterval time.Duration
	EvHandler         EventHandler
}

// Server manages the websocket connections of the node and implements the
// protocol.Network interface for the handler.
type Server struct {
	handler           *protocol.Handler
	peers             *peer.PeerSet
	nodeID            string
	host              string
	maxConnections    int
	version           uint8
	syncTimeout       time.Duration
	timedSyncInterval time.Duration
	evHandler         EventHandler
	upgrader          websocket.Upgrader
	dialer            *websocket.Dialer

	mu    sync.RWMutex
	conns map[uuid.UUID]*conn

	wg       sync.WaitGroup
	shut     chan struct{}
	shutOnce sync.Once
}

// New constructs a server and registers it with the handler as its
// network. The maintenance goroutine starts right away.
func New(cfg Config) *Server {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	syncTimeout := cfg.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}
	timedSync := cfg.TimedSyncInterval
	if timedSync <= 0 {
		timedSync = DefaultTimedSyncInterval
	}

	version := protocol.CurrentVersion
	if !cfg.LiteBlocks {
		version = protocol.Version1
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	s := Server{
		handler:           cfg.Handler,
		peers:             cfg.Peers,
		nodeID:            nodeID,
		host:              cfg.Host,
		maxConnections:    maxConns,
		version:           version,
		syncTimeout:       syncTimeout,
		timedSyncInterval: timedSync,
		evHandler:         ev,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[uuid.UUID]*conn),
		shut:  make(chan struct{}),
	}

	cfg.Handler.SetNetwork(&s)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maintenance()
	}()

	return &s
}

// Shutdown closes every connection and waits for their goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.evHandler("p2p: shutdown: started")
	defer s.evHandler("p2p: shutdown: completed")

	s.shutOnce.Do(func() { close(s.shut) })

	s.mu.RLock()
	for _, c := range s.conns {
		c.close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NodeID returns the id the node presents in its handshake.
func (s *Server) NodeID() string {
	return s.nodeID
}

// =============================================================================

// Accept upgrades the request to a websocket connection and serves it
// until it closes.
func (s *Server) Accept(w http.ResponseWriter, r *http.Request) error {
	if s.isShutdown() {
		return ErrShutdown
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c, err := s.register(ws, r.RemoteAddr, true)
	if err != nil {
		ws.Close()
		return err
	}

	s.serve(c)
	return nil
}

// Dial connects to the peer at the host and serves the connection on its
// own goroutine.
func (s *Server) Dial(ctx context.Context, host string) error {
	if s.isShutdown() {
		return ErrShutdown
	}

	if s.IsConnected(host) {
		return ErrAlreadyConnected
	}

	url := fmt.Sprintf("ws://%s%s", host, Path)
	ws, resp, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c, err := s.register(ws, host, false)
	if err != nil {
		ws.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(c)
	}()

	return nil
}

// IsConnected reports if there is an outbound connection to the host.
func (s *Server) IsConnected(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conns {
		if !c.ctx.Inbound && c.ctx.Host == host {
			return true
		}
	}
	return false
}

// =============================================================================
// These methods implement the protocol.Network interface.

// Send queues the frame on the connection.
func (s *Server) Send(id uuid.UUID, cmd protocol.Command, payload []byte) error {
	s.mu.RLock()
	c, exists := s.conns[id]
	s.mu.RUnlock()

	if !exists {
		return ErrUnknownConnection
	}

	return s.enqueue(c, cmd, payload)
}

// Relay queues the frame on every connection the filter accepts, except
// the excluded one.
func (s *Server) Relay(cmd protocol.Command, payload []byte, exclude uuid.UUID, filter func(protocol.Info) bool) {
	s.mu.RLock()
	targets := make([]*conn, 0, len(s.conns))
	for id, c := range s.conns {
		if id != exclude && filter(c.ctx.Info()) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.enqueue(c, cmd, payload)
	}
}

// Drop closes the connection. Its goroutine reports the disconnection to
// the handler.
func (s *Server) Drop(id uuid.UUID) {
	s.mu.RLock()
	c, exists := s.conns[id]
	s.mu.RUnlock()

	if exists {
		s.evHandler("p2p: Drop: conn[%s]", c.ctx)
		c.close()
	}
}

// Connections returns a snapshot of the connections.
func (s *Server) Connections() []protocol.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]protocol.Info, 0, len(s.conns))
	for _, c := range s.conns {
		infos = append(infos, c.ctx.Info())
	}
	return infos
}

// =============================================================================

// register adds the connection and starts its writer.
func (s *Server) register(ws *websocket.Conn, host string, inbound bool) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isShutdown() {
		return nil, ErrShutdown
	}

	if len(s.conns) >= s.maxConnections {
		return nil, ErrTooManyConnections
	}

	c := newConn(ws, protocol.NewContext(uuid.New(), host, inbound))
	s.conns[c.ctx.ID] = c

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(c)
	}()

	s.evHandler("p2p: register: conn[%s]: inbound[%t]: connections[%d]", c.ctx, inbound, len(s.conns))

	return c, nil
}

// unregister forgets the connection.
func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.ctx.ID)
	count := len(s.conns)
	s.mu.Unlock()

	s.evHandler("p2p: unregister: conn[%s]: connections[%d]", c.ctx, count)
}

// serve sends the handshake and reads frames until the connection closes.
func (s *Server) serve(c *conn) {
	defer func() {
		c.close()
		s.unregister(c)
		s.handler.Disconnected(c.ctx)
	}()

	hs := protocol.Handshake{
		Version: s.version,
		NodeID:  s.nodeID,
		Host:    s.host,
		Sync:    s.handler.SyncData(),
	}
	if err := s.sendMessage(c, protocol.CmdHandshake, hs); err != nil {
		s.evHandler("p2p: serve: conn[%s]: handshake: ERROR: %s", c.ctx, err)
		return
	}

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				s.evHandler("p2p: serve: conn[%s]: read: WARNING: %s", c.ctx, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if mt != websocket.BinaryMessage {
			continue
		}

		cmd, payload, err := decodeFrame(data)
		if err != nil {
			s.evHandler("p2p: serve: conn[%s]: ERROR: %s", c.ctx, err)
			return
		}

		if cmd == protocol.CmdHandshake && !s.checkHandshake(c, payload) {
			return
		}

		s.handler.Dispatch(c.ctx, cmd, payload)

		if c.ctx.State() == protocol.StateShutdown {
			return
		}
	}
}

// checkHandshake refuses a connection to the node itself and learns the
// host the peer listens on.
func (s *Server) checkHandshake(c *conn, payload []byte) bool {
	var hs protocol.Handshake
	if err := protocol.Decode(payload, &hs); err != nil {

		// The handler drops the connection over the bad payload.
		return true
	}

	if hs.NodeID == s.nodeID {
		s.evHandler("p2p: checkHandshake: conn[%s]: WARNING: connected to self, closing", c.ctx)
		return false
	}

	if s.peers != nil && hs.Host != "" && hs.Host != s.host {
		if s.peers.Add(peer.New(hs.Host)) {
			s.evHandler("p2p: checkHandshake: conn[%s]: adding peer[%s]", c.ctx, hs.Host)
		}
	}

	return true
}

// writeLoop is the only writer of the connection. It drains the queue and
// keeps the connection alive with pings.
func (s *Server) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.evHandler("p2p: writeLoop: conn[%s]: WARNING: %s", c.ctx, err)
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// enqueue hands the frame to the writer of the connection. A peer that
// can't keep up with its queue is disconnected.
func (s *Server) enqueue(c *conn, cmd protocol.Command, payload []byte) error {
	if c.isClosed() {
		return ErrUnknownConnection
	}

	select {
	case c.send <- encodeFrame(cmd, payload):
		return nil
	default:
		s.evHandler("p2p: enqueue: conn[%s]: %s: ERROR: send queue full, closing", c.ctx, cmd)
		c.close()
		return ErrQueueFull
	}
}

func (s *Server) sendMessage(c *conn, cmd protocol.Command, msg any) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.enqueue(c, cmd, payload)
}

// =============================================================================

// maintenance advertises the chain position to the peers and closes the
// connections whose sync request went unanswered.
func (s *Server) maintenance() {
	s.evHandler("p2p: maintenance: G started")
	defer s.evHandler("p2p: maintenance: G completed")

	timedSync := time.NewTicker(s.timedSyncInterval)
	defer timedSync.Stop()

	watchdog := time.NewTicker(max(min(s.syncTimeout/4, 5*time.Second), 10*time.Millisecond))
	defer watchdog.Stop()

	for {
		select {
		case <-timedSync.C:
			s.timedSync()
		case <-watchdog.C:
			s.checkSyncTimeouts(time.Now())
		case <-s.shut:
			return
		}
	}
}

// timedSync sends the chain position to every connection past the
// handshake.
func (s *Server) timedSync() {
	payload, err := protocol.Encode(s.handler.SyncData())
	if err != nil {
		s.evHandler("p2p: timedSync: ERROR: %s", err)
		return
	}

	s.Relay(protocol.CmdTimedSync, payload, uuid.Nil, func(info protocol.Info) bool {
		return info.State != protocol.StateBeforeHandshake && info.State != protocol.StateShutdown
	})
}

// checkSyncTimeouts drops the connections that did not answer a sync
// request in time.
func (s *Server) checkSyncTimeouts(now time.Time) {
	s.mu.RLock()
	var stalled []*conn
	for _, c := range s.conns {
		if since, ok := c.ctx.AwaitingSince(); ok && now.Sub(since) > s.syncTimeout {
			stalled = append(stalled, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range stalled {
		s.evHandler("p2p: checkSyncTimeouts: conn[%s]: ERROR: no response within %v, closing", c.ctx, s.syncTimeout)
		c.close()
	}
}

func (s *Server) isShutdown() bool {
	select {
	case <-s.shut:
		return true
	default:
		return false
	}
}

// =============================================================================

// encodeFrame prefixes the payload with the command id.
func encodeFrame(cmd protocol.Command, payload []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(cmd))
	copy(frame[frameHeaderSize:], payload)
	return frame
}

// decodeFrame splits a frame into the command id and the payload.
func decodeFrame(frame []byte) (protocol.Command, []byte, error) {
	if len(frame) < frameHeaderSize {
		return 0, nil, fmt.Errorf("frame of %d bytes is too short", len(frame))
	}
	return protocol.Command(binary.BigEndian.Uint32(frame)), frame[frameHeaderSize:], nil
}

package p2p

import (
	"sync"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/gorilla/websocket"
)

// conn is a websocket connection with its protocol context. Frames are
// written by the writer goroutine of the connection only.
type conn struct {
	ctx  *protocol.Context
	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newConn(ws *websocket.Conn, ctx *protocol.Context) *conn {
	return &conn{
		ctx:  ctx,
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// close stops the writer and unblocks the reader. It can be called any
// number of times from any goroutine.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

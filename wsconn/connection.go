package wsconn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/yaak-app/yaakengine/logger"
	"github.com/yaak-app/yaakengine/response"
	"github.com/yaak-app/yaakengine/store"
)

// Connection wraps one dialed *websocket.Conn together with the
// response.WebsocketContext that advances its persisted state and frame
// log. gorilla/websocket requires at most one concurrent writer per
// connection, so Send and the close handshake share writeMu.
type Connection struct {
	conn   *websocket.Conn
	wc     *response.WebsocketContext
	logger *logger.Logger

	writeMu  sync.Mutex
	closing  atomic.Bool
	sawClose atomic.Bool
	done     chan struct{}
}

func newConnection(conn *websocket.Conn, wc *response.WebsocketContext, lg *logger.Logger) *Connection {
	return &Connection{conn: conn, wc: wc, logger: lg, done: make(chan struct{})}
}

// Send forwards message, which the caller has already rendered, as a text
// frame, recording a client-side Text event before writing to the socket.
func (c *Connection) Send(message string) error {
	c.wc.Emit(store.WSEventText, false, []byte(message))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// Close marks the connection Closing and issues a close frame; the
// receive loop observes the resulting close handshake (or its own read
// error) and finalizes the Closed transition.
func (c *Connection) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.wc.Update(ctx, func(conn *store.WebsocketConnection) { conn.State = store.WSClosing })

	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	<-c.done
	return err
}

// startReceiveLoop spawns the one task per connection spec.md Â§5 requires:
// it pulls frames until the socket closes or ctx is canceled, appending an
// event per frame, then finalizes state to Closed.
func (c *Connection) startReceiveLoop(ctx context.Context) {
	go func() {
		defer close(c.done)
		go func() {
			<-ctx.Done()
			_ = c.conn.Close()
		}()

		for {
			kind, data, err := c.readFrame()
			if err != nil {
				break
			}
			c.wc.Emit(kind, true, data)
			if kind == store.WSEventClose {
				c.sawClose.Store(true)
				break
			}
		}

		if !c.sawClose.Load() {
			c.wc.Emit(store.WSEventClose, true, nil)
		}
		_ = c.conn.Close()
		_ = c.wc.Update(context.Background(), func(conn *store.WebsocketConnection) {
			conn.State = store.WSClosed
		})
		c.wc.Close()
		if c.logger != nil {
			c.logger.Debugf("wsconn: connection %s closed", c.wc.Snapshot().ID)
		}
	}()
}

func (c *Connection) readFrame() (store.WebsocketEventKind, []byte, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	switch msgType {
	case websocket.TextMessage:
		return store.WSEventText, data, nil
	case websocket.BinaryMessage:
		return store.WSEventBinary, data, nil
	case websocket.PingMessage:
		return store.WSEventPing, data, nil
	case websocket.PongMessage:
		return store.WSEventPong, data, nil
	case websocket.CloseMessage:
		return store.WSEventClose, data, nil
	default:
		return store.WSEventFrame, data, nil
	}
}

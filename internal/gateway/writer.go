package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const writeTimeout = 5 * time.Second

// clientWriter serializes all outbound traffic for one connection. Gorilla
// allows a single concurrent writer, so frames and heartbeat pings both go
// through this goroutine.
type clientWriter struct {
	conn         *websocket.Conn
	sendCh       chan []byte
	done         chan struct{}
	clock        clockwork.Clock
	pingInterval time.Duration
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock, pingInterval time.Duration) *clientWriter {
	cw := &clientWriter{
		conn:         conn,
		sendCh:       make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		clock:        clock,
		pingInterval: pingInterval,
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(cw.pingInterval)
	defer ticker.Stop()
	defer cw.conn.Close()

	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.Chan():
			cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cw.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// trySend enqueues a frame without blocking. Returns false when the buffer
// is full, marking the client as slow.
func (cw *clientWriter) trySend(msg []byte) bool {
	select {
	case cw.sendCh <- msg:
		return true
	default:
		return false
	}
}

// stop closes the connection immediately, discarding queued frames.
func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}

// drainAndStop lets queued frames flush before the connection closes. Used
// when a final frame (such as an auth failure) must reach the client.
func (cw *clientWriter) drainAndStop() {
	close(cw.sendCh)
}

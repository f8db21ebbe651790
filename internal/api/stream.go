package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"tycoon/internal/game"
)

const (
	streamBuffer     = 16
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 2 * streamPingPeriod
	streamMaxFrame   = 4 << 10
)

// handleStream upgrades to a websocket and pushes the session dashboard
// after every tick. Frames from the client are read only to answer pings
// and to notice when it goes away. writePump is the only writer on conn.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("stream upgrade failed", "session", sess.Handle(), "err", err)
		return
	}
	feed, cancel := sess.Subscribe(streamBuffer)
	c := &streamConn{
		conn:   conn,
		feed:   feed,
		pongs:  make(chan []byte, 1),
		cancel: cancel,
		log:    s.log.With("session", sess.Handle(), "remote", conn.RemoteAddr().String()),
	}
	c.log.Info("stream opened")
	go c.readPump()
	c.writePump()
	c.log.Info("stream closed")
}

type streamConn struct {
	conn   net.Conn
	feed   <-chan game.Dashboard
	pongs  chan []byte
	cancel func()
	log    *slog.Logger
}

func (c *streamConn) readPump() {
	defer c.cancel()
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	for {
		h, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}
		if h.Length > streamMaxFrame {
			c.log.Warn("stream frame too big", "size", h.Length)
			return
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))

		switch h.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			// One pending pong is enough; extra pings are dropped.
			select {
			case c.pongs <- payload:
			default:
			}
		}
	}
}

func (c *streamConn) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case d, ok := <-c.feed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_, _ = c.conn.Write(ws.CompiledClose)
				return
			}
			msg, err := json.Marshal(d)
			if err != nil {
				c.log.Error("stream encode failed", "err", err)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}
		case p := <-c.pongs:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPong, p); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

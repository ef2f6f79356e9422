package signal

import (
	"context"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ConnectionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("writePump ping error")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the connection lifetime: when it returns, the coordinator
// sees a disconnect and the writer is stopped.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ConnectionID, user domain.UserID, c *WsSignalConn) {
	defer func() {
		ctl.Orch.OnDisconnect(id)
		ctl.Limiter.Forget(id)
		c.Close()
		cancel()
		log.Info().Str("module", "signal").Str("sid", string(id)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(id, user, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(id domain.ConnectionID, user domain.UserID, c *WsSignalConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("bad json")
		ctl.sendJSON(c, protocol.Errorf(protocol.CodeBadPayload, ""))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypeCreateOrJoin:
		if !ctl.Limiter.Allow(id) {
			log.Warn().Str("module", "signal").Str("sid", string(id)).Msg("create-or-join rate limited")
			ctl.sendJSON(c, protocol.Errorf(protocol.CodeRateLimited, msg.RoomID))
			return
		}
		if msg.UserID == "" {
			msg.UserID = string(user)
		}
		ctl.Orch.Handle(id, msg)
	default:
		ctl.Orch.Handle(id, msg)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, msg protocol.Message) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

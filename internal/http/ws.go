package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tutorme/tutorchat/internal/command"
	"tutorme/tutorchat/internal/dispatch"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/model"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxFrameSize = 64 << 10
)

type wsInbound struct {
	Text string `json:"text"`
}

type wsFrame struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages,omitempty"`
	Message  *model.Message  `json:"message,omitempty"`
	Echo     bool            `json:"echo,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// handleConversationStream upgrades to a websocket bound to one open
// conversation: the first frame is the history, then every update. Inbound
// frames are sent as messages.
func (s *Server) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)
	counterpart := pathIdentity(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conv, err := s.hub.Open(ctx, sess, counterpart)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer conv.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	logger := logging.FromContext(ctx)

	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	outbound := make(chan wsFrame, 8)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			var in wsInbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			_, err := conv.Send(ctx, in.Text)
			if err == nil || errors.Is(err, command.ErrEmpty) {
				continue
			}
			_, code := errorStatus(err)
			select {
			case outbound <- wsFrame{Type: "error", Error: code}:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		_ = conn.Close()
		// Closing the conversation releases a reader parked in Send.
		_ = conv.Close()
		<-readerDone
	}()

	write := func(frame wsFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug().Err(err).Msg("websocket write failed")
			return false
		}
		return true
	}

	history := conv.Messages()
	if !write(wsFrame{Type: "history", Messages: history}) {
		return
	}
	// Updates queued before the snapshot was taken are already in it.
	sent := make(map[string]struct{}, len(history))
	for _, m := range history {
		sent[m.Key()] = struct{}{}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-conv.Updates():
			if !ok {
				return
			}
			msg := ev.Message
			if ev.Type == dispatch.EventMessage {
				if _, dup := sent[msg.Key()]; dup {
					delete(sent, msg.Key())
					continue
				}
			}
			if !write(wsFrame{Type: string(ev.Type), Message: &msg, Echo: ev.Echo}) {
				return
			}
		case frame := <-outbound:
			if !write(frame) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tapwire/tapwire-agent/nfc"
	"github.com/tapwire/tapwire-agent/protocol"
)

// upgrader accepts any origin: the gateway binds to loopback and serves an
// unauthenticated local endpoint.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades an HTTP connection and manages one client: a
// writer pump draining the client's hub subscription and a reader loop
// parsing inbound commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	s.log.Infow("client connected", "client", id, "remote", r.RemoteAddr)

	// Writer pump: hub subscription -> client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debugw("WebSocket write error", "client", id, "error", err)
				conn.Close()
				return
			}
		}
	}()

	// Push the current reader status to the new client.
	s.enqueue(protocol.TypeGetReaderStatus, nfc.Command{Kind: nfc.CommandCheckReaderStatus})

	// Reader loop: client -> command queue. Malformed messages are dropped
	// without a reply.
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg protocol.Incoming
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Debugw("dropping malformed client message", "client", id, "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeGetReaderStatus:
			s.enqueue(msg.Type, nfc.Command{Kind: nfc.CommandCheckReaderStatus})
		case protocol.TypeWriteData:
			s.enqueue(msg.Type, nfc.Command{Kind: nfc.CommandWriteData, Payloads: msg.Payloads})
		default:
			s.log.Debugw("dropping unknown client message", "client", id, "type", msg.Type)
		}
	}

	s.hub.Unsubscribe(id)
	<-done
	s.log.Infow("client disconnected", "client", id)
}

// enqueue pushes a command without blocking the client read loop; a full
// queue sheds the command.
func (s *Server) enqueue(msgType string, cmd nfc.Command) {
	select {
	case s.commands <- cmd:
	default:
		s.log.Warnw("command queue full, dropping command", "type", msgType)
	}
}

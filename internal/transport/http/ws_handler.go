package http

import (
	"encoding/json"
	"log"
	"net/http"

	"quizcha-live-service/internal/app"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSHandler wires websocket connections into the live session.
type WSHandler struct {
	session  *app.LiveSession
	upgrader websocket.Upgrader
}

func NewWSHandler(session *app.LiveSession) *WSHandler {
	return &WSHandler{
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	UserID string `json:"userId"`
}

type answerPayload struct {
	// nil means the client explicitly signals a timeout.
	Answer *string `json:"answer"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsClient adapts one websocket connection to app.Client. Sends are
// non-blocking: when the buffer is full the oldest message is dropped, so a
// slow client can never stall a broadcast.
type wsClient struct {
	id   string
	send chan envelope
}

func newWSClient() *wsClient {
	return &wsClient{id: uuid.NewString(), send: make(chan envelope, 16)}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(msgType string, payload any) {
	msg := envelope{Type: msgType, Payload: payload}
	select {
	case c.send <- msg:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ServeWS upgrades the request and runs the per-connection read loop until
// the client goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := newWSClient()
	log.Printf("new client connected: %s", client.id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "joinQuiz":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.UserID == "" {
				client.Send(app.MsgError, app.ErrorPayload{Message: "invalid join payload"})
				continue
			}
			if err := h.session.Join(r.Context(), client, payload.UserID); err != nil {
				client.Send(app.MsgError, app.ErrorPayload{Message: err.Error()})
			}
		case "submitAnswer":
			var payload answerPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					client.Send(app.MsgError, app.ErrorPayload{Message: "invalid answer payload"})
					continue
				}
			}
			if err := h.session.SubmitAnswer(r.Context(), client.id, payload.Answer); err != nil {
				client.Send(app.MsgError, app.ErrorPayload{Message: err.Error()})
			}
		case "requestState":
			h.session.SendState(client)
		default:
			client.Send(app.MsgError, app.ErrorPayload{Message: "unsupported message type"})
		}
	}

	log.Printf("client disconnected: %s", client.id)
	h.session.Disconnect(client.id)
	close(client.send)
	<-writerDone
}

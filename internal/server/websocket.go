package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/pyexec/internal/executor"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // access control is the job of the fronting proxy
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type   string `json:"type"`
	Script string `json:"script"`
}

// wsOutgoing is a message to the client. Kind carries the outcome class
// that /execute reports as "type".
type wsOutgoing struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
	Stdout string          `json:"stdout"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	RunID  string          `json:"run_id,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.maxBody)

	// Scripts on one connection run one at a time, in order.
	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		if msg.Type != "execute" {
			s.wsWriteJSON(conn, wsOutgoing{Type: "error", Error: `unsupported message type, expected "execute"`})
			continue
		}

		out, err := s.runner.Execute(r.Context(), msg.Script)
		if err != nil {
			s.wsWriteJSON(conn, refusalMessage(err))
			continue
		}
		s.wsWriteJSON(conn, outcomeMessage(out))
	}
}

func outcomeMessage(out *executor.Outcome) wsOutgoing {
	if out.OK() {
		return wsOutgoing{Type: "result", Result: out.Value, Stdout: out.Stdout, RunID: out.RunID}
	}
	return wsOutgoing{
		Type:   "error",
		Stdout: out.Stdout,
		Error:  out.Message,
		Kind:   string(out.Kind),
		RunID:  out.RunID,
	}
}

func refusalMessage(err error) wsOutgoing {
	var ve *executor.ValidationError
	switch {
	case errors.As(err, &ve):
		return wsOutgoing{Type: "error", Error: ve.Message, Kind: string(executor.KindValidationError)}
	case errors.Is(err, executor.ErrAtCapacity):
		return wsOutgoing{Type: "error", Error: "Too many concurrent executions, retry later", Kind: "at_capacity"}
	default:
		return wsOutgoing{Type: "error", Error: executor.MsgInternal, Kind: string(executor.KindInternalError)}
	}
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v wsOutgoing) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket marshal")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.log.Debug().Err(err).Msg("websocket write")
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"
)

type wsSession struct {
	conn   *websocket.Conn
	userID string
}

func (s *wsSession) UserID() string {
	return s.userID
}

func (s *wsSession) Send(ctx context.Context, payload []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// handleCaseSocket runs one session: accept the connection, announce and
// register it, then relay every well-formed inbound JSON object to the
// case's room until the connection dies. Malformed frames are dropped
// without closing the connection; any read error ends the session.
func (s *Server) handleCaseSocket(w http.ResponseWriter, r *http.Request, caseID, userID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	sess := &wsSession{conn: conn, userID: userID}
	s.gateway.Join(caseID, sess)
	defer func() {
		s.gateway.Leave(caseID, sess)
		conn.CloseNow()
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !json.Valid(data) {
			continue
		}
		s.gateway.Relay(caseID, data)
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	maxMsgSize = 4096
)

type tokenVerifier interface {
	UserIDFromToken(ctx context.Context, token string) (string, error)
}

type membershipDirectory interface {
	GetMemberRole(ctx context.Context, boardID, userID string) (string, error)
}

// Gateway owns the websocket lifecycle: it authenticates the upgrade,
// registers the connection with the hub, and services join/leave control
// messages. A join for a board the caller does not belong to is ignored
// without a reply so the channel name leaks nothing.
type Gateway struct {
	hub     *Hub
	tokens  tokenVerifier
	members membershipDirectory
	log     *logrus.Logger

	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, tokens tokenVerifier, members membershipDirectory, log *logrus.Logger) *Gateway {
	return &Gateway{
		hub:     hub,
		tokens:  tokens,
		members: members,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type controlMessage struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
}

// HandleWS upgrades the request and runs the connection until the peer
// disconnects or the server shuts down.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := wsToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := g.tokens.UserIDFromToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := g.hub.Register(userID)
	go g.writePump(conn, client)
	g.readPump(conn, client)
}

// wsToken pulls the access token from the query string or, failing that,
// the Authorization header. Browsers cannot set headers on websocket
// upgrades, hence the query param.
func wsToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (g *Gateway) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		g.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.WithError(err).WithField("user_id", client.UserID()).Debug("websocket read error")
			}
			return
		}

		g.handleControl(client, raw)
	}
}

// handleControl applies one join/leave control message. Malformed frames,
// unknown boards, and joins by non-members are all dropped without a
// reply, so a guessing client cannot tell a denied board from a missing
// one.
func (g *Gateway) handleControl(client *Client, raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.BoardID == "" {
		return
	}

	switch msg.Type {
	case "join_board":
		// membership is re-verified against the database on every join
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := g.members.GetMemberRole(ctx, msg.BoardID, client.UserID())
		cancel()
		if err != nil {
			return
		}
		g.hub.Join(client, msg.BoardID)
	case "leave_board":
		g.hub.Leave(client, msg.BoardID)
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Outbox():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown closes every live connection.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll()
}

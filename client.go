package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 16384
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	clientID   string
	sessionID  string
	remoteAddr string
	msgCount   int
	msgResetAt time.Time
	// Auth state
	authAccountID int64  // 0 = unauthenticated/guest
	authUsername  string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// sendError reports a per-client failure without touching the match.
func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: SrvError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case CliList:
		c.handleList()
	case CliCreate:
		c.handleCreate(env.D)
	case CliJoin:
		c.handleJoin(env.D)
	case CliIntent:
		c.handleIntent(env.D)
	case CliPing:
		c.SendJSON(Envelope{T: SrvPing})
	case CliHash:
		c.handleHash(env.D)
	case CliWinner:
		c.handleWinner(env.D)
	case CliLog:
		c.handleLog(env.D)
	case CliCheck:
		c.handleCheck(env.D)
	case CliLeave:
		c.handleLeave()
	case CliRegister:
		c.handleRegister(env.D)
	case CliLogin:
		c.handleLogin(env.D)
	case CliAuth:
		c.handleAuth(env.D)
	}
}

func (c *Client) handleList() {
	sessions := c.hub.sessions.ListSessions()
	c.SendJSON(Envelope{T: SrvSessions, Data: sessions})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sname := msg.SessionName
	if sname == "" {
		sname = "Open Front"
	}
	if len(sname) > 30 {
		sname = sname[:30]
	}

	sess, err := c.hub.sessions.CreateSession(sname, msg.Width, msg.Height)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: SrvCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	name := msg.Name
	if name == "" {
		name = "Commander"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	sess := c.hub.sessions.GetSession(msg.SessionID)
	if sess == nil {
		c.sendError("session not found")
		return
	}

	var player *Player
	if msg.ClientID != "" {
		// Resume: reclaim the existing player record.
		player = sess.Game.PlayerByClient(msg.ClientID)
		if player == nil {
			c.sendError("unknown client id")
			return
		}
	} else {
		player = sess.Game.AddPlayer(GenerateID(4), name, PlayerHuman)
		if player == nil {
			c.sendError("session full")
			return
		}
	}

	c.clientID = player.ClientID
	c.sessionID = sess.ID
	sess.Game.SetClient(c.clientID, c)
	sess.touch()

	start, err := sess.Game.StartInfo(msg.ResumeFrom)
	if err != nil {
		c.sendError("could not build start payload")
		return
	}

	c.SendJSON(Envelope{T: SrvMap, Data: MapMsg{
		Width:  start.Width,
		Height: start.Height,
		Name:   sess.Name,
	}})
	c.SendJSON(Envelope{T: SrvJoined, Data: JoinedMsg{
		SessionID: sess.ID,
		ClientID:  c.clientID,
		SmallID:   player.SmallID,
	}})
	c.SendJSON(Envelope{T: SrvStart, Data: start})
}

// handleIntent validates one intent against its schema and queues it for
// the next turn. The sender's identity always comes from the connection,
// never from the payload.
func (c *Client) handleIntent(data json.RawMessage) {
	if c.sessionID == "" || c.clientID == "" {
		c.sendError("not in a session")
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}

	in, err := DecodeIntent(data)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	in.ClientID = c.clientID

	if err := sess.Game.SubmitIntent(in); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleHash(data json.RawMessage) {
	if c.sessionID == "" {
		return
	}
	var msg HashMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	sess.Game.ReportHash(c.clientID, msg.Turn, msg.Hash)
}

func (c *Client) handleWinner(data json.RawMessage) {
	if c.sessionID == "" {
		return
	}
	var msg WinnerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		return
	}
	sess.Game.ReportWinner(c.clientID, msg.ClientID)
}

func (c *Client) handleLog(data json.RawMessage) {
	var msg LogMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if len(msg.Message) > 512 {
		msg.Message = msg.Message[:512]
	}
	if c.hub.diag != nil {
		c.hub.diag.Track(EvtClientLog, c.sessionID, c.clientID, msg.Severity+": "+msg.Message)
	}
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.SendJSON(Envelope{T: SrvChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	c.SendJSON(Envelope{T: SrvChecked, Data: CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    sess.Name,
		Players: sess.Game.PlayerCount(),
	}})
}

func (c *Client) handleLeave() {
	if c.sessionID != "" {
		c.hub.sessions.DetachClient(c.sessionID, c.clientID)
		c.sessionID = ""
		c.clientID = ""
	}
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authAccountID = id
	c.authUsername = msg.Username
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: SrvAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: msg.Username,
		Account:  id,
	}})
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	// One live connection per account; re-auth on the same connection is fine.
	if c.authAccountID != id && c.hub.IsOnline(id) {
		c.sendError("account already connected")
		return
	}
	c.authAccountID = id
	c.authUsername = msg.Username
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: SrvAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: msg.Username,
		Account:  id,
	}})
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	if c.authAccountID != id && c.hub.IsOnline(id) {
		c.sendError("account already connected")
		return
	}
	c.authAccountID = id
	c.authUsername = username
	c.hub.SetOnline(id, c)
	c.SendJSON(Envelope{T: SrvAuthOK, Data: AuthOKMsg{
		Token:    msg.Token,
		Username: username,
		Account:  id,
	}})
}

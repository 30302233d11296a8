package main

import "encoding/json"

// Client -> Server message types. This set and the server set below are
// disjoint by design; an envelope type from one set is never valid in the
// other direction.
const (
	CliJoin   = "join"
	CliIntent = "intent"
	CliPing   = "ping"
	CliHash   = "hash"
	CliWinner = "winner"
	CliLog    = "log"
	CliCreate = "create" // create session
	CliList   = "list"   // list sessions
	CliCheck  = "check"  // check if session exists
	CliLeave  = "leave"

	CliRegister = "register"
	CliLogin    = "login"
	CliAuth     = "auth" // token re-validation
)

// Server -> Client message types.
const (
	SrvTurn     = "turn"
	SrvStart    = "start"
	SrvMap      = "map"
	SrvPing     = "ping"
	SrvDesync   = "desync"
	SrvError    = "error"
	SrvJoined   = "joined"
	SrvCreated  = "created"
	SrvSessions = "sessions"
	SrvChecked  = "checked"
	SrvAuthOK   = "authok"
)

// Envelope wraps all outgoing JSON messages with a type field. Turn
// broadcasts bypass it and travel as binary msgpack frames.
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids
// double-unmarshal.
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// JoinMsg requests entry into a session. ResumeFrom lets a reconnecting
// client skip the part of the turn history it already has.
type JoinMsg struct {
	Name       string `json:"name"`
	SessionID  string `json:"sid"`
	ClientID   string `json:"clientID,omitempty"` // set when resuming
	Token      string `json:"token,omitempty"`
	ResumeFrom uint32 `json:"resumeFrom,omitempty"`
}

// HashMsg reports a client's locally computed state hash for a turn.
type HashMsg struct {
	Turn uint32 `json:"turn"`
	Hash uint64 `json:"hash"`
}

// WinnerMsg reports the winner a client observed at match end.
type WinnerMsg struct {
	ClientID string `json:"clientID"`
}

// LogMsg carries a client diagnostic line for server-side recording.
type LogMsg struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// MapMsg announces the map before the match starts.
type MapMsg struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

// StartMsg carries everything a joining client needs: the immutable match
// configuration, the roster as of now, and the gzip-packed turn history
// from the resume point (turn 0 for fresh joins).
type StartMsg struct {
	Config      Tuning        `json:"config"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Players     []PlayerDelta `json:"players"`
	FromTurn    uint32        `json:"fromTurn"`
	TurnsPacked []byte        `json:"turnsPacked,omitempty"` // gzip(msgpack([]TurnBroadcast))
}

// DesyncMsg tells a client its hash for a turn disagreed with the
// authoritative one. Informational; remediation is up to the client.
type DesyncMsg struct {
	Turn                   uint32  `json:"turn"`
	CorrectHash            *uint64 `json:"correctHash"`
	ClientsWithCorrectHash int     `json:"clientsWithCorrectHash"`
	TotalActiveClients     int     `json:"totalActiveClients"`
	YourHash               *uint64 `json:"yourHash,omitempty"`
}

// ErrorMsg sends an error to one client.
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// JoinedMsg confirms a join and hands the client its identity.
type JoinedMsg struct {
	SessionID string        `json:"sid"`
	ClientID  string        `json:"clientID"`
	SmallID   PlayerSmallID `json:"smallID"`
}

// SessionInfo is used in the session list.
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Turn    uint32 `json:"turn"`
}

// CreateMsg asks for a new session.
type CreateMsg struct {
	Name        string `json:"name"`
	SessionName string `json:"sname"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// RegisterMsg creates a named account.
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates a named account.
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg presents a previously issued token.
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms authentication.
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Account  int64  `json:"account"`
}

// CheckMsg asks whether a session exists.
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg is the response to a session check.
type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players,omitempty"`
}

package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	maxSessions    = 100
	defaultMapW    = 256
	defaultMapH    = 256
	maxMapSide     = 1024
	botsPerMatch   = 2
	sessionReapAge = 10 * time.Minute
)

// Session represents one running match players can join.
type Session struct {
	ID      string
	Name    string
	Game    *Game
	Created time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionManager handles creation, lookup and reaping of sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      *Tuning
	db       *DB
	diag     *Diagnostics
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(cfg *Tuning, db *DB, diag *Diagnostics) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		db:       db,
		diag:     diag,
	}
	go sm.reapLoop()
	return sm
}

// CreateSession creates a new match. Width/height of 0 select the defaults.
func (sm *SessionManager) CreateSession(name string, width, height int) (*Session, error) {
	if width <= 0 {
		width = defaultMapW
	}
	if height <= 0 {
		height = defaultMapH
	}
	if width > maxMapSide || height > maxMapSide {
		return nil, fmt.Errorf("map too large: %dx%d", width, height)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= maxSessions {
		return nil, fmt.Errorf("session limit reached")
	}

	id := GenerateUUID()
	game := NewGame(NewGrid(width, height), sm.cfg, seedFromID(id))
	sess := &Session{
		ID:       id,
		Name:     name,
		Game:     game,
		Created:  time.Now(),
		lastSeen: time.Now(),
	}

	game.onTurn = func(tb TurnBroadcast) {
		if sm.db != nil {
			if err := sm.db.SaveTurn(id, &tb); err != nil {
				log.Printf("session %s: save turn %d: %v", id, tb.Turn.Number, err)
			}
		}
	}
	game.onDesync = func(notice DesyncMsg, clientID string) {
		if sm.diag != nil {
			sm.diag.Track(EvtDesync, id, clientID, fmt.Sprintf("turn=%d", notice.Turn))
		}
	}
	game.onWinner = func(winnerClient string) {
		turns := game.Tick()
		if sm.db != nil {
			if _, err := sm.db.RecordMatch(id, name, winnerClient, turns); err != nil {
				log.Printf("session %s: record match: %v", id, err)
			}
		}
		if sm.diag != nil {
			sm.diag.Track(EvtWinner, id, winnerClient, fmt.Sprintf("turns=%d", turns))
		}
	}

	for i := 0; i < botsPerMatch; i++ {
		game.AddBot(fmt.Sprintf("Nation %d", i+1))
	}

	sm.sessions[id] = sess
	go game.Run()

	if sm.diag != nil {
		sm.diag.Track(EvtSessionStart, id, "", name)
		sm.diag.SetActiveSessions(len(sm.sessions))
	}
	return sess, nil
}

// GetSession returns a session by ID, or nil.
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// DetachClient drops a connection from its session. The player record stays
// in the match so the client can resume later.
func (sm *SessionManager) DetachClient(sessionID, clientID string) {
	sess := sm.GetSession(sessionID)
	if sess == nil {
		return
	}
	sess.Game.RemoveClient(clientID)
	sess.touch()
}

// ListSessions returns info about all active sessions.
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Players: sess.Game.PlayerCount(),
			Turn:    sess.Game.Tick(),
		})
	}
	return list
}

// reapLoop stops matches nobody has touched for a while.
func (sm *SessionManager) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-sessionReapAge)

		sm.mu.Lock()
		for id, sess := range sm.sessions {
			if sess.Game.ClientCount() == 0 && sess.idleSince().Before(cutoff) {
				sess.Game.Stop()
				delete(sm.sessions, id)
				log.Printf("session %s reaped after idle timeout", id)
				if sm.diag != nil {
					sm.diag.Track(EvtSessionEnd, id, "", "idle")
				}
			}
		}
		n := len(sm.sessions)
		sm.mu.Unlock()

		if sm.diag != nil {
			sm.diag.SetActiveSessions(n)
		}
	}
}

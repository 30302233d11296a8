package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	maxPlayersPerSession = 32
	maxUnitsPerSession   = 4096
	maxPendingIntents    = 1024
)

// Broadcaster is the client-facing send surface the game needs.
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// Attack is an in-progress territorial attack. It lives in both players'
// attack lists until it runs out of troops or is cancelled.
type Attack struct {
	ID     uint32
	From   PlayerSmallID
	To     PlayerSmallID
	Target TileRef
	Troops int32
	Radius int32
}

// Game holds the canonical state for one match and is its single source of
// truth. Ticks run strictly sequentially under mu; determinism comes from
// that sequencing plus explicit iteration order, not from locking.
type Game struct {
	mu   sync.Mutex
	grid *Grid
	cfg  *Tuning
	seed uint64

	tick     uint32
	units    map[uint32]*Unit
	players  map[PlayerSmallID]*Player
	byClient map[string]PlayerSmallID
	owner    []PlayerSmallID // per-tile ownership
	attacks  map[uint32]*Attack
	index    *UnitIndex

	// Engagement claims: munition id -> launcher id. System-wide at most
	// one launcher per munition, across ticks.
	committed map[uint32]uint32

	pending []Intent // arrival order; becomes the next turn verbatim
	history []TurnBroadcast
	graves  []uint32 // deactivated last tick, dropped from live maps this tick

	clients   map[string]Broadcaster
	hashVotes map[uint32]map[string]uint64

	bots []*Bot

	nextUnit   uint32
	nextAttack uint32
	nextSmall  PlayerSmallID

	cur *tickDelta // delta being collected for the tick in progress

	onTurn   func(TurnBroadcast)       // persistence hook, may be nil
	onDesync func(DesyncMsg, string)   // diagnostics hook, may be nil
	onWinner func(winnerClient string) // match-end hook, may be nil

	running bool
	stop    chan struct{}
}

// NewGame creates a match over the given grid. seed feeds every
// deterministic random draw the simulation makes.
func NewGame(grid *Grid, cfg *Tuning, seed uint64) *Game {
	return &Game{
		grid:      grid,
		cfg:       cfg,
		seed:      seed,
		units:     make(map[uint32]*Unit),
		players:   make(map[PlayerSmallID]*Player),
		byClient:  make(map[string]PlayerSmallID),
		owner:     make([]PlayerSmallID, grid.Tiles()),
		attacks:   make(map[uint32]*Attack),
		index:     NewUnitIndex(grid),
		committed: make(map[uint32]uint32),
		clients:   make(map[string]Broadcaster),
		hashVotes: make(map[uint32]map[string]uint64),
		nextUnit:  1,
		nextSmall: 1,
		stop:      make(chan struct{}),
	}
}

// Run starts the turn loop. One goroutine per match.
func (g *Game) Run() {
	g.mu.Lock()
	g.running = true
	interval := time.Duration(g.cfg.TickMillis) * time.Millisecond
	g.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.stepBots()
			g.RunTurn()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the turn loop.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.running = false
		close(g.stop)
	}
}

// AddPlayer registers a player and assigns the next dense small-id.
// Returns nil when the session is full or the client already joined.
func (g *Game) AddPlayer(clientID, name string, typ PlayerType) *Player {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byClient[clientID]; ok {
		return nil
	}
	if len(g.players) >= maxPlayersPerSession {
		return nil
	}
	p := &Player{
		SmallID:  g.nextSmall,
		ClientID: clientID,
		Name:     name,
		Type:     typ,
	}
	g.nextSmall++
	g.players[p.SmallID] = p
	g.byClient[clientID] = p.SmallID
	return p
}

// PlayerByClient returns the player registered for a client id, or nil.
func (g *Game) PlayerByClient(clientID string) *Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byClient[clientID]
	if !ok {
		return nil
	}
	return g.players[id]
}

// SetClient associates a broadcaster with a player's client id.
func (g *Game) SetClient(clientID string, b Broadcaster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[clientID] = b
}

// RemoveClient detaches a connection. The player record stays in the match.
func (g *Game) RemoveClient(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, clientID)
}

// SubmitIntent queues a validated intent for the next turn. Arrival order
// is the order the executor will apply, by contract.
func (g *Game) SubmitIntent(in Intent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.byClient[in.ClientID]; !ok {
		return fmt.Errorf("intent from unknown client %s", in.ClientID)
	}
	if len(g.pending) >= maxPendingIntents {
		return fmt.Errorf("intent queue full")
	}
	g.pending = append(g.pending, in)
	return nil
}

// RunTurn commits pending intents as the next turn, executes it, and
// broadcasts the resulting delta.
func (g *Game) RunTurn() {
	g.mu.Lock()

	turn := Turn{Number: g.tick + 1, Intents: g.pending}
	g.pending = nil

	update := g.executeTurn(turn)
	hash := update.Hash
	turn.Hash = &hash

	tb := TurnBroadcast{Turn: turn, Update: update}
	g.history = append(g.history, tb)

	raw, err := EncodeBroadcast(&tb)
	clients := make([]Broadcaster, 0, len(g.clients))
	for _, b := range g.clients {
		clients = append(clients, b)
	}
	onTurn := g.onTurn
	g.mu.Unlock()

	if err != nil {
		log.Printf("encode turn %d: %v", turn.Number, err)
		return
	}
	for _, b := range clients {
		b.SendBinary(raw)
	}
	if onTurn != nil {
		onTurn(tb)
	}
}

// stepBots lets server-driven players enqueue intents through the same
// path human clients use.
func (g *Game) stepBots() {
	g.mu.Lock()
	bots := append([]*Bot(nil), g.bots...)
	tick := g.tick
	g.mu.Unlock()
	for _, b := range bots {
		b.Step(g, tick)
	}
}

// AddBot creates a bot-driven player.
func (g *Game) AddBot(name string) *Player {
	clientID := GenerateID(4)
	p := g.AddPlayer(clientID, name, PlayerBot)
	if p == nil {
		return nil
	}
	g.mu.Lock()
	g.bots = append(g.bots, NewBot(clientID, g.seed^seedFromID(clientID)))
	g.mu.Unlock()
	return p
}

// ClientCount returns the number of attached connections.
func (g *Game) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// PlayerCount returns the number of players in the match.
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.players)
}

// Tick returns the last completed turn number.
func (g *Game) Tick() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tick
}

// StartInfo builds the start-of-match payload for a client joining or
// resuming: roster, map dimensions, and packed turn history after
// resumeFrom.
func (g *Game) StartInfo(resumeFrom uint32) (*StartMsg, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	roster := make([]PlayerDelta, 0, len(g.players))
	for _, id := range sortedSmallIDs(g.players) {
		roster = append(roster, g.players[id].delta())
	}

	var tail []TurnBroadcast
	if int(resumeFrom) < len(g.history) {
		tail = g.history[resumeFrom:]
	}
	packed, err := PackTurnHistory(tail)
	if err != nil {
		return nil, err
	}
	return &StartMsg{
		Config:      *g.cfg,
		Width:       g.grid.W,
		Height:      g.grid.H,
		Players:     roster,
		FromTurn:    resumeFrom,
		TurnsPacked: packed,
	}, nil
}

// ReportHash records a client's state hash for a turn and answers with a
// desync notice when it disagrees with the canonical hash.
func (g *Game) ReportHash(clientID string, turn uint32, h uint64) {
	g.mu.Lock()

	if turn == 0 || int(turn) > len(g.history) {
		g.mu.Unlock()
		return
	}
	canonical := g.history[turn-1].Update.Hash

	votes := g.hashVotes[turn]
	if votes == nil {
		votes = make(map[string]uint64)
		g.hashVotes[turn] = votes
	}
	votes[clientID] = h

	// Old vote tables are dead weight once the turn is far behind.
	for t := range g.hashVotes {
		if t+64 < g.tick {
			delete(g.hashVotes, t)
		}
	}

	if h == canonical {
		g.mu.Unlock()
		return
	}

	correct := 0
	for _, v := range votes {
		if v == canonical {
			correct++
		}
	}
	yours := h
	notice := DesyncMsg{
		Turn:                   turn,
		CorrectHash:            &canonical,
		ClientsWithCorrectHash: correct,
		TotalActiveClients:     len(g.clients),
		YourHash:               &yours,
	}
	target := g.clients[clientID]
	onDesync := g.onDesync
	g.mu.Unlock()

	log.Printf("desync: client %s turn %d hash %x want %x", clientID, turn, h, canonical)
	if target != nil {
		target.SendJSON(Envelope{T: SrvDesync, Data: notice})
	}
	if onDesync != nil {
		onDesync(notice, clientID)
	}
}

// ReportWinner accepts a client's end-of-match winner report.
func (g *Game) ReportWinner(clientID, winnerClient string) {
	g.mu.Lock()
	onWinner := g.onWinner
	_, known := g.byClient[winnerClient]
	g.mu.Unlock()
	if !known {
		log.Printf("winner report for unknown client %s from %s", winnerClient, clientID)
		return
	}
	if onWinner != nil {
		onWinner(winnerClient)
	}
}

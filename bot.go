package main

// Bot drives a server-side player through the same intent path human
// clients use, so its actions are ordinary turn content. All of its
// decisions derive from its seed and the tick, never from wall clock.
type Bot struct {
	clientID string
	seed     uint64
	spawned  bool
}

// NewBot creates a bot identity.
func NewBot(clientID string, seed uint64) *Bot {
	return &Bot{clientID: clientID, seed: seed}
}

// Step enqueues at most one intent for the coming turn.
func (b *Bot) Step(g *Game, tick uint32) {
	if !b.spawned {
		if p := g.PlayerByClient(b.clientID); p != nil && p.Tiles > 0 {
			b.spawned = true
		} else {
			// Retries with a fresh tile each tick until a spawn sticks.
			_ = g.SubmitIntent(Intent{Kind: IntentSpawn, ClientID: b.clientID, Tile: b.pickTile(g, tick)})
			return
		}
	}
	// Raid roughly every hundred ticks.
	if tick%97 != 0 {
		return
	}
	_ = g.SubmitIntent(Intent{
		Kind:     IntentAttack,
		ClientID: b.clientID,
		Target:   b.pickTile(g, tick),
		Troops:   50,
	})
}

func (b *Bot) pickTile(g *Game, tick uint32) TileRef {
	n := uint64(g.grid.Tiles())
	return TileRef(splitmix64(b.seed^uint64(tick)) % n)
}

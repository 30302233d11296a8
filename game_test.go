package main

import "testing"

const (
	testClientA = "aaaaaaaa"
	testClientB = "bbbbbbbb"
)

func newTestGame(seed uint64) *Game {
	return NewGame(NewGrid(64, 64), DefaultTuning(), seed)
}

// stepTurn drives one turn through the same path the ticker uses.
func stepTurn(g *Game, intents ...Intent) WorldUpdate {
	for _, in := range intents {
		if err := g.SubmitIntent(in); err != nil {
			panic(err)
		}
	}
	g.RunTurn()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history[len(g.history)-1].Update
}

func spawnIntent(clientID string, t TileRef) Intent {
	return Intent{Kind: IntentSpawn, ClientID: clientID, Tile: t}
}

func TestDeterministicReplay(t *testing.T) {
	script := func(g *Game) []uint64 {
		g.AddPlayer(testClientA, "Alice", PlayerHuman)
		g.AddPlayer(testClientB, "Bob", PlayerHuman)

		grid := g.grid
		var hashes []uint64

		u := stepTurn(g,
			spawnIntent(testClientA, grid.Ref(10, 10)),
			spawnIntent(testClientB, grid.Ref(50, 50)),
		)
		hashes = append(hashes, u.Hash)

		u = stepTurn(g, Intent{
			Kind: IntentBuildUnit, ClientID: testClientA,
			Tile: grid.Ref(11, 10), UnitName: "sam_launcher",
		})
		hashes = append(hashes, u.Hash)

		u = stepTurn(g, Intent{
			Kind: IntentAttack, ClientID: testClientA,
			Target: grid.Ref(50, 50), Troops: 100,
		})
		hashes = append(hashes, u.Hash)

		for i := 0; i < 10; i++ {
			hashes = append(hashes, stepTurn(g).Hash)
		}
		return hashes
	}

	h1 := script(newTestGame(42))
	h2 := script(newTestGame(42))

	if len(h1) != len(h2) {
		t.Fatalf("replay lengths differ: %d vs %d", len(h1), len(h2))
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Fatalf("turn %d: hash %x vs %x, replay diverged", i+1, h1[i], h2[i])
		}
	}
}

func TestSeedChangesOutcome(t *testing.T) {
	// Same script, different seed: hashes may only coincide by chance once
	// randomness is actually drawn, but the tick count must still match.
	g1 := newTestGame(1)
	g2 := newTestGame(2)
	for _, g := range []*Game{g1, g2} {
		g.AddPlayer(testClientA, "Alice", PlayerHuman)
		stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))
	}
	if g1.Tick() != g2.Tick() {
		t.Fatalf("tick counts diverged: %d vs %d", g1.Tick(), g2.Tick())
	}
}

func TestSemanticFailureSkipsOnlyThatIntent(t *testing.T) {
	g := newTestGame(7)
	g.AddPlayer(testClientA, "Alice", PlayerHuman)
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))

	// First intent fails its precondition (attacking own territory); the
	// second must still apply within the same turn.
	stepTurn(g,
		Intent{Kind: IntentAttack, ClientID: testClientA, Target: g.grid.Ref(10, 10), Troops: 10},
		Intent{Kind: IntentBuildUnit, ClientID: testClientA, Tile: g.grid.Ref(11, 10), UnitName: "defense_post"},
	)

	g.mu.Lock()
	defer g.mu.Unlock()
	found := false
	for _, u := range g.units {
		if u.Type == UnitDefensePost && u.Active {
			found = true
		}
	}
	if !found {
		t.Fatal("valid intent after a failed one did not apply")
	}
	if len(g.attacks) != 0 {
		t.Fatal("attack on own territory was registered")
	}
}

func TestSpawnClaimsDiskAndFoundsCity(t *testing.T) {
	g := newTestGame(7)
	p := g.AddPlayer(testClientA, "Alice", PlayerHuman)
	center := g.grid.Ref(10, 10)
	stepTurn(g, spawnIntent(testClientA, center))

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner[center] != p.SmallID {
		t.Fatal("spawn center not claimed")
	}
	if p.Tiles <= 0 {
		t.Fatalf("tile count = %d after spawn", p.Tiles)
	}
	if p.Troops != g.cfg.StartingTroops+g.cfg.TroopGrowth {
		t.Errorf("troops = %d after spawn turn", p.Troops)
	}
	city := g.unitAt(center, UnitCity, p.SmallID)
	if city == nil || city.Level != 1 {
		t.Fatal("no city at spawn center")
	}
}

func TestSecondSpawnRejected(t *testing.T) {
	g := newTestGame(7)
	g.AddPlayer(testClientA, "Alice", PlayerHuman)
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(40, 40)))

	g.mu.Lock()
	defer g.mu.Unlock()
	cities := 0
	for _, u := range g.units {
		if u.Type == UnitCity {
			cities++
		}
	}
	if cities != 1 {
		t.Fatalf("%d cities after double spawn, want 1", cities)
	}
}

func TestBuildUpgradesInPlace(t *testing.T) {
	g := newTestGame(7)
	p := g.AddPlayer(testClientA, "Alice", PlayerHuman)
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))

	site := g.grid.Ref(11, 10)
	build := Intent{Kind: IntentBuildUnit, ClientID: testClientA, Tile: site, UnitName: "sam_launcher"}
	stepTurn(g, build)
	stepTurn(g, build)

	g.mu.Lock()
	defer g.mu.Unlock()
	sam := g.unitAt(site, UnitSAMLauncher, p.SmallID)
	if sam == nil {
		t.Fatal("launcher missing")
	}
	if sam.Level != 2 {
		t.Fatalf("Level = %d after rebuild on same tile, want 2", sam.Level)
	}
	launchers := 0
	for _, u := range g.units {
		if u.Type == UnitSAMLauncher {
			launchers++
		}
	}
	if launchers != 1 {
		t.Fatalf("%d launchers, want 1 upgraded in place", launchers)
	}
}

func TestAttackConquersAndCancelRefunds(t *testing.T) {
	g := newTestGame(7)
	a := g.AddPlayer(testClientA, "Alice", PlayerHuman)
	b := g.AddPlayer(testClientB, "Bob", PlayerHuman)
	stepTurn(g,
		spawnIntent(testClientA, g.grid.Ref(10, 10)),
		spawnIntent(testClientB, g.grid.Ref(30, 10)),
	)

	g.mu.Lock()
	bTilesBefore := b.Tiles
	g.mu.Unlock()

	stepTurn(g, Intent{Kind: IntentAttack, ClientID: testClientA, Target: g.grid.Ref(30, 10), Troops: 20})

	g.mu.Lock()
	if len(a.Outgoing) != 1 || len(b.Incoming) != 1 {
		g.mu.Unlock()
		t.Fatalf("attack lists: out=%v in=%v", a.Outgoing, b.Incoming)
	}
	attackID := a.Outgoing[0]
	troopsBefore := a.Troops
	g.mu.Unlock()

	stepTurn(g) // one tick of conquest

	g.mu.Lock()
	if b.Tiles >= bTilesBefore {
		g.mu.Unlock()
		t.Fatalf("defender tiles %d did not shrink from %d", b.Tiles, bTilesBefore)
	}
	g.mu.Unlock()

	stepTurn(g, Intent{Kind: IntentCancelAttack, ClientID: testClientA, AttackID: attackID})

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.attacks) != 0 {
		t.Fatal("attack still registered after cancel")
	}
	if len(a.Outgoing) != 0 || len(b.Incoming) != 0 {
		t.Fatalf("attack lists not cleaned: out=%v in=%v", a.Outgoing, b.Incoming)
	}
	if a.Troops <= troopsBefore {
		t.Errorf("no refund: troops %d before cancel, %d after", troopsBefore, a.Troops)
	}
}

func TestNukeFlightAndDetonation(t *testing.T) {
	g := newTestGame(7)
	a := g.AddPlayer(testClientA, "Alice", PlayerHuman)
	b := g.AddPlayer(testClientB, "Bob", PlayerHuman)
	stepTurn(g,
		spawnIntent(testClientA, g.grid.Ref(10, 10)),
		spawnIntent(testClientB, g.grid.Ref(40, 10)),
	)

	silo := g.grid.Ref(11, 10)
	bobCity := g.grid.Ref(40, 10)
	stepTurn(g, Intent{Kind: IntentBuildUnit, ClientID: testClientA, Tile: silo, UnitName: "missile_silo"})
	stepTurn(g, Intent{
		Kind: IntentLaunchNuke, ClientID: testClientA,
		Tile: silo, Target: bobCity, UnitName: "atom_bomb",
	})

	g.mu.Lock()
	var bomb *Unit
	for _, u := range g.units {
		if u.Type == UnitAtomBomb {
			bomb = u
		}
	}
	g.mu.Unlock()
	if bomb == nil {
		t.Fatal("bomb not launched")
	}

	// Flight distance 29 at speed 4: run enough turns to arrive.
	for i := 0; i < 12; i++ {
		stepTurn(g)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if bomb.Active {
		t.Fatalf("bomb still in flight at tile %d", bomb.Tile)
	}
	if g.unitAt(bobCity, UnitCity, b.SmallID) != nil {
		t.Fatal("city survived a direct hit")
	}
	if g.owner[bobCity] != UnclaimedSmallID {
		t.Fatal("ground zero not scorched to unclaimed")
	}
	_ = a
}

func TestLaunchRequiresReadySilo(t *testing.T) {
	g := newTestGame(7)
	g.AddPlayer(testClientA, "Alice", PlayerHuman)
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))
	silo := g.grid.Ref(11, 10)
	stepTurn(g, Intent{Kind: IntentBuildUnit, ClientID: testClientA, Tile: silo, UnitName: "missile_silo"})

	launch := Intent{
		Kind: IntentLaunchNuke, ClientID: testClientA,
		Tile: silo, Target: g.grid.Ref(50, 10), UnitName: "atom_bomb",
	}
	stepTurn(g, launch)
	stepTurn(g, launch) // silo is on cooldown, must be refused

	g.mu.Lock()
	defer g.mu.Unlock()
	bombs := 0
	for _, u := range g.units {
		if u.Type == UnitAtomBomb {
			bombs++
		}
	}
	if bombs != 1 {
		t.Fatalf("%d bombs launched through one silo cooldown window, want 1", bombs)
	}
}

// TestSamInterceptsInboundNuke runs the defended-launch scenario through
// the full tick pipeline: silo, launcher and bomb all come in as intents,
// and flight, acquisition, interception and cooldown all happen inside
// ordinary turns.
func TestSamInterceptsInboundNuke(t *testing.T) {
	g := newTestGame(7)
	g.AddPlayer(testClientA, "Alice", PlayerHuman)
	b := g.AddPlayer(testClientB, "Bob", PlayerHuman)
	stepTurn(g,
		spawnIntent(testClientA, g.grid.Ref(10, 10)),
		spawnIntent(testClientB, g.grid.Ref(40, 10)),
	)

	silo := g.grid.Ref(11, 10)
	samSite := g.grid.Ref(40, 11)
	bobCity := g.grid.Ref(40, 10)
	stepTurn(g,
		Intent{Kind: IntentBuildUnit, ClientID: testClientA, Tile: silo, UnitName: "missile_silo"},
		Intent{Kind: IntentBuildUnit, ClientID: testClientB, Tile: samSite, UnitName: "sam_launcher"},
	)
	stepTurn(g, Intent{
		Kind: IntentLaunchNuke, ClientID: testClientA,
		Tile: silo, Target: bobCity, UnitName: "atom_bomb",
	})

	g.mu.Lock()
	var bomb *Unit
	for _, u := range g.units {
		if u.Type == UnitAtomBomb {
			bomb = u
		}
	}
	sam := g.unitAt(samSite, UnitSAMLauncher, b.SmallID)
	g.mu.Unlock()
	if bomb == nil || sam == nil {
		t.Fatal("scenario setup incomplete")
	}

	for i := 0; i < 15; i++ {
		stepTurn(g)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if bomb.Active {
		t.Fatalf("bomb reached tile %d uncontested", bomb.Tile)
	}
	if g.unitAt(bobCity, UnitCity, b.SmallID) == nil {
		t.Fatal("defended city destroyed")
	}
	if g.owner[bobCity] != b.SmallID {
		t.Fatal("defended ground scorched")
	}
	if sam.Engagement() != EngageCooldown || sam.Cooldown == 0 {
		t.Fatalf("launcher state %v cooldown %d after firing", sam.Engagement(), sam.Cooldown)
	}
	if len(g.committed) != 0 {
		t.Fatalf("stale engagement claims: %v", g.committed)
	}
}

func TestUnitCapBlocksCreation(t *testing.T) {
	g := newTestGame(7)
	p := g.AddPlayer(testClientA, "Alice", PlayerHuman)
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))

	g.mu.Lock()
	g.cur = newTickDelta()
	for len(g.units) < maxUnitsPerSession {
		g.createUnit(p.SmallID, UnitDefensePost, g.grid.Ref(20, 20))
	}
	g.cur = nil
	troopsBefore := p.Troops
	g.mu.Unlock()

	stepTurn(g, Intent{
		Kind: IntentBuildUnit, ClientID: testClientA,
		Tile: g.grid.Ref(12, 10), UnitName: "defense_post",
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.units) > maxUnitsPerSession {
		t.Fatalf("%d units, cap is %d", len(g.units), maxUnitsPerSession)
	}
	if p.Troops != troopsBefore+g.cfg.TroopGrowth {
		t.Fatalf("troops = %d, refused build must not charge", p.Troops)
	}
}

func TestSubmitIntentUnknownClient(t *testing.T) {
	g := newTestGame(7)
	if err := g.SubmitIntent(spawnIntent("ffffffff", 0)); err == nil {
		t.Fatal("intent from unregistered client accepted")
	}
}

func TestReportHashDesyncNotice(t *testing.T) {
	g := newTestGame(7)
	g.AddPlayer(testClientA, "Alice", PlayerHuman)
	var gotNotice *DesyncMsg
	g.onDesync = func(n DesyncMsg, clientID string) {
		gotNotice = &n
	}
	stepTurn(g, spawnIntent(testClientA, g.grid.Ref(10, 10)))

	g.mu.Lock()
	canonical := g.history[0].Update.Hash
	g.mu.Unlock()

	g.ReportHash(testClientA, 1, canonical)
	if gotNotice != nil {
		t.Fatal("agreeing hash raised a desync notice")
	}

	g.ReportHash(testClientA, 1, canonical^1)
	if gotNotice == nil {
		t.Fatal("disagreeing hash raised no desync notice")
	}
	if gotNotice.Turn != 1 || *gotNotice.CorrectHash != canonical {
		t.Fatalf("notice = %+v", gotNotice)
	}
}

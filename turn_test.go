package main

import "testing"

func TestPackTileChange(t *testing.T) {
	cases := []struct {
		tile  TileRef
		owner PlayerSmallID
	}{
		{0, 0},
		{1, 1},
		{65535, 32},
		{1<<32 - 1, 65535},
	}
	for _, tc := range cases {
		tile, owner := unpackTileChange(packTileChange(tc.tile, tc.owner))
		if tile != tc.tile || owner != tc.owner {
			t.Errorf("round trip (%d,%d) -> (%d,%d)", tc.tile, tc.owner, tile, owner)
		}
	}
}

func TestTurnHistoryPacking(t *testing.T) {
	hash := uint64(0xfeed)
	history := []TurnBroadcast{
		{
			Turn: Turn{Number: 1, Intents: []Intent{{Kind: IntentSpawn, ClientID: testClientA, Tile: 7}}},
			Update: WorldUpdate{
				Tick:  1,
				Units: []Unit{{ID: 1, Type: UnitCity, Owner: 1, Tile: 7, Active: true, Level: 1}},
				Tiles: []uint64{packTileChange(7, 1)},
				Hash:  0xfeed,
			},
		},
		{
			Turn:   Turn{Number: 2, Hash: &hash},
			Update: WorldUpdate{Tick: 2, Hash: 0xfeed},
		},
	}

	packed, err := PackTurnHistory(history)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnpackTurnHistory(packed)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns", len(got))
	}
	if got[0].Turn.Number != 1 || got[0].Update.Units[0].Tile != 7 {
		t.Fatalf("turn 1 mangled: %+v", got[0])
	}
	if got[1].Turn.Hash == nil || *got[1].Turn.Hash != hash {
		t.Fatal("optional turn hash lost")
	}
}

func TestUnpackEmptyHistory(t *testing.T) {
	got, err := UnpackTurnHistory(nil)
	if err != nil || got != nil {
		t.Fatalf("empty history: got %v, %v", got, err)
	}
}

func TestEncodeDecodeBroadcast(t *testing.T) {
	hash := uint64(42)
	tb := &TurnBroadcast{
		Turn:   Turn{Number: 9, Hash: &hash},
		Update: WorldUpdate{Tick: 9, Hash: 42},
	}
	raw, err := EncodeBroadcast(tb)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBroadcast(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Turn.Number != 9 || got.Update.Hash != 42 || *got.Turn.Hash != 42 {
		t.Fatalf("decoded %+v", got)
	}
}

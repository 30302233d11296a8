package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

// Turn is the committed, ordered batch of intents applied in one tick.
// Immutable once broadcast. Hash is the canonical state hash after applying
// the turn; optional on the wire so lagging clients can omit it, but when
// two parties supply it for the same turn number the values must match
// bit for bit or a desync is declared.
type Turn struct {
	Number  uint32   `json:"turnNumber" msgpack:"n"`
	Intents []Intent `json:"intents" msgpack:"i"`
	Hash    *uint64  `json:"hash,omitempty" msgpack:"h,omitempty"`
}

// PlayerDelta is the wire form of a changed player record.
type PlayerDelta struct {
	SmallID  PlayerSmallID   `json:"smallID" msgpack:"s"`
	ClientID string          `json:"clientID" msgpack:"c"`
	Name     string          `json:"name" msgpack:"nm"`
	Type     PlayerType      `json:"playerType" msgpack:"pt"`
	Team     int8            `json:"team,omitempty" msgpack:"tm,omitempty"`
	Allies   []PlayerSmallID `json:"allies,omitempty" msgpack:"al,omitempty"`
	Troops   int64           `json:"troops" msgpack:"tr"`
	Gold     int64           `json:"gold" msgpack:"g"`
	Tiles    int32           `json:"tiles" msgpack:"ti"`
	Incoming []uint32        `json:"incoming,omitempty" msgpack:"in,omitempty"`
	Outgoing []uint32        `json:"outgoing,omitempty" msgpack:"out,omitempty"`
}

// WorldUpdate is the per-tick delta: every unit and player touched this
// tick plus packed tile-ownership changes. Produced exactly once per tick,
// consumed exactly once by each client's world view.
type WorldUpdate struct {
	Tick    uint32        `json:"tick" msgpack:"t"`
	Units   []Unit        `json:"units,omitempty" msgpack:"u,omitempty"`
	Players []PlayerDelta `json:"players,omitempty" msgpack:"p,omitempty"`
	Tiles   []uint64      `json:"tiles,omitempty" msgpack:"o,omitempty"`
	Hash    uint64        `json:"hash" msgpack:"h"`
}

// TurnBroadcast is the binary frame sent to every client each tick: the
// turn that was applied and the delta it produced.
type TurnBroadcast struct {
	Turn   Turn        `msgpack:"turn"`
	Update WorldUpdate `msgpack:"update"`
}

// packTileChange packs one ownership change into 48 bits: tile ref in the
// high 32, new owner small-id in the low 16.
func packTileChange(t TileRef, owner PlayerSmallID) uint64 {
	return uint64(t)<<16 | uint64(owner)
}

func unpackTileChange(v uint64) (TileRef, PlayerSmallID) {
	return TileRef(v >> 16), PlayerSmallID(v & 0xffff)
}

// EncodeBroadcast marshals a turn broadcast to its msgpack wire form.
func EncodeBroadcast(tb *TurnBroadcast) ([]byte, error) {
	return msgpack.Marshal(tb)
}

// DecodeBroadcast unmarshals a binary turn frame.
func DecodeBroadcast(raw []byte) (*TurnBroadcast, error) {
	var tb TurnBroadcast
	if err := msgpack.Unmarshal(raw, &tb); err != nil {
		return nil, fmt.Errorf("turn broadcast: %w", err)
	}
	return &tb, nil
}

// PackTurnHistory compresses a slice of past broadcasts for the
// start-of-match payload. Late joiners replay these in order to catch up.
func PackTurnHistory(history []TurnBroadcast) ([]byte, error) {
	raw, err := msgpack.Marshal(history)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackTurnHistory reverses PackTurnHistory.
func UnpackTurnHistory(packed []byte) ([]TurnBroadcast, error) {
	if len(packed) == 0 {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	var history []TurnBroadcast
	if err := msgpack.Unmarshal(raw, &history); err != nil {
		return nil, err
	}
	return history, nil
}

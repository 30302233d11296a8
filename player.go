package main

import "sort"

// PlayerSmallID is the dense per-match integer identity used on hot paths
// inside unit and relation records. Zero is reserved for unclaimed
// territory; real players start at 1. Stable string client IDs are used at
// the protocol boundary only.
type PlayerSmallID uint16

// UnclaimedSmallID marks territory owned by nobody.
const UnclaimedSmallID PlayerSmallID = 0

// PlayerType distinguishes how a player is driven.
type PlayerType uint8

const (
	PlayerHuman PlayerType = iota
	PlayerBot
	PlayerNation
)

func (t PlayerType) String() string {
	switch t {
	case PlayerBot:
		return "bot"
	case PlayerNation:
		return "nation"
	}
	return "human"
}

// Player is the canonical per-player record.
type Player struct {
	SmallID  PlayerSmallID
	ClientID string
	Name     string
	Type     PlayerType
	Team     int8
	Allies   []PlayerSmallID
	Troops   int64
	Gold     int64
	Tiles    int32

	Incoming []uint32 // attack ids targeting this player
	Outgoing []uint32 // attack ids launched by this player
}

// IsAlliedWith reports whether other is in the player's alliance set.
func (p *Player) IsAlliedWith(other PlayerSmallID) bool {
	for _, a := range p.Allies {
		if a == other {
			return true
		}
	}
	return false
}

// delta snapshots the record into its wire form. Slices are copied so the
// broadcast payload never aliases mutable canonical state.
func (p *Player) delta() PlayerDelta {
	return PlayerDelta{
		SmallID:  p.SmallID,
		ClientID: p.ClientID,
		Name:     p.Name,
		Type:     p.Type,
		Team:     p.Team,
		Allies:   append([]PlayerSmallID(nil), p.Allies...),
		Troops:   p.Troops,
		Gold:     p.Gold,
		Tiles:    p.Tiles,
		Incoming: append([]uint32(nil), p.Incoming...),
		Outgoing: append([]uint32(nil), p.Outgoing...),
	}
}

// dropAttackID removes an attack id from a list, order-preserving.
func dropAttackID(list []uint32, id uint32) []uint32 {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// sortedSmallIDs returns the keys of a player map in ascending order, for
// iteration that must not depend on map ordering.
func sortedSmallIDs(players map[PlayerSmallID]*Player) []PlayerSmallID {
	ids := make([]PlayerSmallID, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

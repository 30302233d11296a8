package main

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sort"
)

// stateHash digests the fully settled post-tick state into 64 bits. Every
// section iterates in sorted-id order; nothing here may depend on map
// ordering or host byte quirks, since two simulations comparing hashes for
// the same turn must agree bit for bit.
func (g *Game) stateHash() uint64 {
	h := sha256.New()
	var tmp [8]byte

	hashWriteU64(h, &tmp, uint64(g.tick))
	g.hashUnits(h, &tmp)
	g.hashPlayers(h, &tmp)
	g.hashOwnership(h)

	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

func (g *Game) hashUnits(h hash.Hash, tmp *[8]byte) {
	ids := g.sortedUnitIDs()
	hashWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		u := g.units[id]
		hashWriteU64(h, tmp, uint64(u.ID))
		hashWriteU64(h, tmp, uint64(u.Type))
		hashWriteU64(h, tmp, uint64(u.Owner))
		hashWriteU64(h, tmp, uint64(u.Tile))
		h.Write([]byte{hashBool(u.Active)})
		hashWriteU64(h, tmp, uint64(uint32(u.Health)))
		hashWriteU64(h, tmp, uint64(uint32(u.Troops)))
		hashWriteU64(h, tmp, uint64(uint32(u.Level)))
		hashWriteU64(h, tmp, uint64(u.LaunchTile))
		hashWriteU64(h, tmp, uint64(u.TargetTile))
		hashWriteU64(h, tmp, uint64(u.PathIdx))
		hashWriteU64(h, tmp, uint64(u.TargetUnit))
		hashWriteU64(h, tmp, uint64(u.Cooldown))
		hashWriteU64(h, tmp, uint64(len(u.Reloads)))
		for _, r := range u.Reloads {
			hashWriteU64(h, tmp, uint64(r))
		}
	}
}

func (g *Game) hashPlayers(h hash.Hash, tmp *[8]byte) {
	ids := sortedSmallIDs(g.players)
	hashWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		p := g.players[id]
		hashWriteU64(h, tmp, uint64(p.SmallID))
		hashWriteU64(h, tmp, uint64(p.Type))
		hashWriteU64(h, tmp, uint64(uint8(p.Team)))
		hashWriteU64(h, tmp, uint64(p.Troops))
		hashWriteU64(h, tmp, uint64(p.Gold))
		hashWriteU64(h, tmp, uint64(uint32(p.Tiles)))

		allies := append([]PlayerSmallID(nil), p.Allies...)
		sort.Slice(allies, func(i, j int) bool { return allies[i] < allies[j] })
		hashWriteU64(h, tmp, uint64(len(allies)))
		for _, a := range allies {
			hashWriteU64(h, tmp, uint64(a))
		}

		hashAttackList(h, tmp, p.Incoming)
		hashAttackList(h, tmp, p.Outgoing)
	}

	// Attack bodies, sorted by id.
	aids := make([]uint32, 0, len(g.attacks))
	for id := range g.attacks {
		aids = append(aids, id)
	}
	sort.Slice(aids, func(i, j int) bool { return aids[i] < aids[j] })
	hashWriteU64(h, tmp, uint64(len(aids)))
	for _, id := range aids {
		a := g.attacks[id]
		hashWriteU64(h, tmp, uint64(a.ID))
		hashWriteU64(h, tmp, uint64(a.From))
		hashWriteU64(h, tmp, uint64(a.To))
		hashWriteU64(h, tmp, uint64(a.Target))
		hashWriteU64(h, tmp, uint64(uint32(a.Troops)))
		hashWriteU64(h, tmp, uint64(uint32(a.Radius)))
	}
}

func (g *Game) hashOwnership(h hash.Hash) {
	// The ownership array is iterated positionally, which is already
	// canonical. Two tiles pack per write.
	var pair [4]byte
	for i := 0; i < len(g.owner); i += 2 {
		binary.LittleEndian.PutUint16(pair[0:2], uint16(g.owner[i]))
		if i+1 < len(g.owner) {
			binary.LittleEndian.PutUint16(pair[2:4], uint16(g.owner[i+1]))
		} else {
			pair[2], pair[3] = 0, 0
		}
		h.Write(pair[:])
	}
}

func hashWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func hashBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func hashAttackList(h hash.Hash, tmp *[8]byte, ids []uint32) {
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	hashWriteU64(h, tmp, uint64(len(sorted)))
	for _, id := range sorted {
		hashWriteU64(h, tmp, uint64(id))
	}
}

package main

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
)

// GenerateID returns a random hex string of the given byte length.
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random v4-style UUID string.
func GenerateUUID() string {
	b := make([]byte, 16)
	rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return hex.EncodeToString(b[0:4]) + "-" + hex.EncodeToString(b[4:6]) + "-" +
		hex.EncodeToString(b[6:8]) + "-" + hex.EncodeToString(b[8:10]) + "-" +
		hex.EncodeToString(b[10:16])
}

// clampInt restricts v to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// splitmix64 is a tiny stateless mixer. The simulation derives all of its
// randomness from turn-deterministic material through it, so replaying the
// same turns always rolls the same outcomes.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// rollChance returns a deterministic [0,1) draw keyed by the given material.
func rollChance(seed uint64, parts ...uint64) float64 {
	x := seed
	for _, p := range parts {
		x = splitmix64(x ^ p)
	}
	return float64(x>>11) / float64(1<<53)
}

// seedFromID folds a stable string id into 64 bits for seeding.
func seedFromID(id string) uint64 {
	var b [8]byte
	copy(b[:], id)
	return binary.LittleEndian.Uint64(b[:])
}

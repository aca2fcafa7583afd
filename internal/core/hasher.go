package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "LendLedger:genesis:v1"

// StateHasher maintains the hash chain over applied operations:
// state_hash[N] = SHA-256(prev_hash || sequence || state_digest).
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with the genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash folds one operation's post-state digest into the chain and
// advances the tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

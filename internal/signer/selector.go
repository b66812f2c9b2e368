package signer

import (
	"bytes"
	"sort"
	"time"
)

// defaultRotateTimeout is how long a coordinator may go silent before
// the selection rotates past it.
const defaultRotateTimeout = 30 * time.Second

// CoordinatorSelector elects the coordinator for the reward cycle. The
// choice is a pure function of the signer set and the time since the
// coordinator's last message: everyone starts from the same canonical
// key ordering, and a coordinator that goes silent longer than the
// rotate timeout is skipped, so all live signers converge on the same
// election without exchanging votes.
type CoordinatorSelector struct {
	ids  []uint32          // signer ids, sorted by public key
	keys map[uint32][]byte // signer id → compressed public key

	index           int
	lastMessageTime time.Time
	hasMessageTime  bool
	rotateTimeout   time.Duration

	now func() time.Time
}

// NewCoordinatorSelector builds a selector over the cycle's signer set.
func NewCoordinatorSelector(keys map[uint32][]byte) *CoordinatorSelector {
	ids := make([]uint32, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	// Canonical ordering: ascending public key bytes, so every signer
	// agrees on the rotation independent of discovery order.
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(keys[ids[i]], keys[ids[j]]) < 0
	})
	return &CoordinatorSelector{
		ids:           ids,
		keys:          keys,
		rotateTimeout: defaultRotateTimeout,
		now:           time.Now,
	}
}

// Coordinator returns the current coordinator's signer id and public
// key, rotating first if the incumbent has been silent too long.
func (s *CoordinatorSelector) Coordinator() (uint32, []byte) {
	if len(s.ids) == 0 {
		return 0, nil
	}
	if s.hasMessageTime && s.now().Sub(s.lastMessageTime) > s.rotateTimeout {
		s.index = (s.index + 1) % len(s.ids)
		s.hasMessageTime = false
	}
	id := s.ids[s.index]
	return id, s.keys[id]
}

// TouchMessageTime records coordinator activity, holding the current
// election in place.
func (s *CoordinatorSelector) TouchMessageTime() {
	s.lastMessageTime = s.now()
	s.hasMessageTime = true
}

// ResetMessageTime clears the activity timer, typically when an
// operation finishes.
func (s *CoordinatorSelector) ResetMessageTime() {
	s.hasMessageTime = false
}

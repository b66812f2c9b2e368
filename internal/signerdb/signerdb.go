// Package signerdb persists the signer's state across restarts: the
// per-cycle participant state of the threshold library, and what the
// signer knows about each proposed block. Two keyspaces over one
// embedded store, JSON values, one store operation per write.
package signerdb

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/embernet-chain/internal/storage"
	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// InMemoryPath opens an ephemeral store instead of a file-backed one.
const InMemoryPath = ":memory:"

// Key prefixes for the two tables.
var (
	blocksPrefix = []byte("blocks/")
	statesPrefix = []byte("signer_states/")
)

// BlockInfo is what the signer knows about one proposed block, keyed by
// the block's signer-signature hash.
type BlockInfo struct {
	// Block is the proposal under consideration.
	Block *block.Block `json:"block"`

	// Vote is this signer's decision, once made.
	Vote *block.Vote `json:"vote,omitempty"`

	// Valid is the node's verdict on the block, once received.
	Valid *bool `json:"valid,omitempty"`

	// NonceRequest is a coordinator request cached while the node's
	// verdict is pending; it is replayed when validation arrives.
	NonceRequest *threshold.Message `json:"nonce_request,omitempty"`

	// SignedOver records that a signing round was started over this
	// block. Once true it never returns to false.
	SignedOver bool `json:"signed_over"`
}

// NewBlockInfo wraps a freshly-proposed block.
func NewBlockInfo(b *block.Block) *BlockInfo {
	return &BlockInfo{Block: b}
}

// NewBlockInfoWithRequest wraps a block first seen inside a nonce
// request: a signing round is already underway for it.
func NewBlockInfoWithRequest(b *block.Block, request *threshold.Message) *BlockInfo {
	return &BlockInfo{Block: b, NonceRequest: request, SignedOver: true}
}

// SignerSignatureHash returns the hash the info is stored under.
func (bi *BlockInfo) SignerSignatureHash() types.Hash {
	return bi.Block.SignerSignatureHash()
}

// SignerDB is the signer's durable store. Each write is a single store
// operation; lookups call Has and then Get. The Badger backend serializes
// concurrent writers; the in-memory backend does no locking.
type SignerDB struct {
	blocks storage.DB
	states storage.DB
	db     storage.DB
}

// Open creates a SignerDB at the given filesystem path, or an in-memory
// one for InMemoryPath.
func Open(path string) (*SignerDB, error) {
	if path == InMemoryPath {
		return New(storage.NewMemory()), nil
	}
	db, err := storage.NewBadger(path)
	if err != nil {
		return nil, fmt.Errorf("open signer db: %w", err)
	}
	return New(db), nil
}

// New wraps an existing store.
func New(db storage.DB) *SignerDB {
	return &SignerDB{
		blocks: storage.NewPrefixDB(db, blocksPrefix),
		states: storage.NewPrefixDB(db, statesPrefix),
		db:     db,
	}
}

// Close releases the backing store.
func (s *SignerDB) Close() error {
	return s.db.Close()
}

// stateKey builds the composite (signer_id, reward_cycle) key.
func stateKey(signerID uint32, rewardCycle uint64) []byte {
	return []byte(fmt.Sprintf("%d/%d", signerID, rewardCycle))
}

// GetSignerState returns the opaque participant state for the signer
// and reward cycle, or nil if none was saved.
func (s *SignerDB) GetSignerState(signerID uint32, rewardCycle uint64) ([]byte, error) {
	key := stateKey(signerID, rewardCycle)
	ok, err := s.states.Has(key)
	if err != nil {
		return nil, fmt.Errorf("get signer state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	state, err := s.states.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get signer state: %w", err)
	}
	return state, nil
}

// InsertSignerState saves (upserting) the participant state for the
// signer and reward cycle.
func (s *SignerDB) InsertSignerState(signerID uint32, rewardCycle uint64, state []byte) error {
	if err := s.states.Put(stateKey(signerID, rewardCycle), state); err != nil {
		return fmt.Errorf("insert signer state: %w", err)
	}
	return nil
}

// DeleteSignerState removes the participant state for the signer and
// reward cycle. Removing an absent state is not an error.
func (s *SignerDB) DeleteSignerState(signerID uint32, rewardCycle uint64) error {
	if err := s.states.Delete(stateKey(signerID, rewardCycle)); err != nil {
		return fmt.Errorf("delete signer state: %w", err)
	}
	return nil
}

// blockKey renders the block table key.
func blockKey(hash types.Hash) []byte {
	return []byte(hash.String())
}

// BlockLookup fetches a block's info by its signer-signature hash, or
// nil if the block is unknown.
func (s *SignerDB) BlockLookup(hash types.Hash) (*BlockInfo, error) {
	key := blockKey(hash)
	ok, err := s.blocks.Has(key)
	if err != nil {
		return nil, fmt.Errorf("block lookup: %w", err)
	}
	if !ok {
		return nil, nil
	}
	raw, err := s.blocks.Get(key)
	if err != nil {
		return nil, fmt.Errorf("block lookup: %w", err)
	}
	var info BlockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("block lookup: decode: %w", err)
	}
	return &info, nil
}

// InsertBlock saves (upserting) a block's info under its
// signer-signature hash.
func (s *SignerDB) InsertBlock(info *BlockInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("insert block: encode: %w", err)
	}
	if err := s.blocks.Put(blockKey(info.SignerSignatureHash()), raw); err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// RemoveBlock deletes a block's info. Removing an absent block is not
// an error.
func (s *SignerDB) RemoveBlock(hash types.Hash) error {
	if err := s.blocks.Delete(blockKey(hash)); err != nil {
		return fmt.Errorf("remove block: %w", err)
	}
	return nil
}

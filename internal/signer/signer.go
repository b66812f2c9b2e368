// Package signer implements the per-reward-cycle signer: a single
// logical actor that validates proposed blocks against its local node,
// participates in DKG and threshold signing rounds, and publishes its
// decisions on the signer bus.
package signer

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/embernet-chain/internal/bus"
	klog "github.com/Klingon-tech/embernet-chain/internal/log"
	"github.com/Klingon-tech/embernet-chain/internal/nodeclient"
	"github.com/Klingon-tech/embernet-chain/internal/signerdb"
	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// State is the signer's lifecycle state within a reward cycle.
type State int

// Signer states.
const (
	// StateIdle: waiting for messages and commands.
	StateIdle State = iota

	// StateOperationInProgress: a DKG or signing round is running; no
	// new command starts until it terminates.
	StateOperationInProgress
)

// CommandKind tags a queued signer operation.
type CommandKind int

// Command kinds.
const (
	// CommandDkg generates a new aggregate public key.
	CommandDkg CommandKind = iota

	// CommandSign runs a signing round over a block.
	CommandSign
)

// Command is a queued signer operation. Only the elected coordinator
// dequeues and executes commands.
type Command struct {
	Kind       CommandKind
	Block      *block.Block
	IsTaproot  bool
	MerkleRoot []byte
}

// NodeClient is the signer's view of its local chain node.
type NodeClient interface {
	CurrentRewardCycle() (uint64, error)
	SubmitBlockForValidation(blk *block.Block) error
	LastDkgRound(rewardCycle uint64) (uint64, bool, error)
	AccountNonce(addr types.Address) (uint64, error)
	NodeEpoch() (types.EpochID, error)
	ApprovedAggregateKey(rewardCycle uint64) ([]byte, error)
	VoteForAggregateKey(round, rewardCycle uint64, addr types.Address) ([]byte, error)
	SubmitTransaction(txn *tx.Transaction) error
}

// MessageBus is the signer's view of the signer bus.
type MessageBus interface {
	SendMessageWithRetry(rewardCycle uint64, msg *bus.SignerMessage) error
	SlotTransactions(rewardCycle uint64, slots []uint32) []*bus.SignerMessage
	Slot() uint32
}

// Config carries the per-cycle signer parameters, supplied by the
// Factory that builds each cycle's signer.
type Config struct {
	RewardCycle uint64
	SignerID    uint32
	ChainID     uint32
	Mainnet     bool

	// TxFee is the fee attached to vote transactions before epoch 3.0.
	TxFee uint64

	// PrivateKey signs this signer's vote transactions.
	PrivateKey *crypto.PrivateKey

	// SignerPublicKeys maps signer id → compressed public key for the
	// cycle's signer set.
	SignerPublicKeys map[uint32][]byte

	// SignerAddresses are the cycle's signer account addresses.
	SignerAddresses []types.Address

	// NextSignerSlots and NextSignerAddresses describe the NEXT
	// cycle's signer set, whose vote transactions proposed blocks must
	// carry.
	NextSignerSlots     []uint32
	NextSignerAddresses []types.Address
}

// Signer is the signer registered for one reward cycle.
type Signer struct {
	cfg Config

	coordinator  threshold.Coordinator
	signingRound threshold.SigningRound
	verifier     threshold.PacketVerifier
	selector     *CoordinatorSelector

	state    State
	commands []Command

	db   *signerdb.SignerDB
	node NodeClient
	bus  MessageBus

	// approvedAggregateKey is the ratified group key, once the node
	// reports one.
	approvedAggregateKey []byte

	// results receives terminal operation results for observers.
	results chan<- []threshold.OperationResult

	log zerolog.Logger
}

// New builds the signer for a reward cycle, restoring any persisted
// participant state.
func New(cfg Config, coordinator threshold.Coordinator, signingRound threshold.SigningRound,
	verifier threshold.PacketVerifier, db *signerdb.SignerDB, node NodeClient, msgBus MessageBus,
	results chan<- []threshold.OperationResult) (*Signer, error) {

	s := &Signer{
		cfg:          cfg,
		coordinator:  coordinator,
		signingRound: signingRound,
		verifier:     verifier,
		selector:     NewCoordinatorSelector(cfg.SignerPublicKeys),
		state:        StateIdle,
		db:           db,
		node:         node,
		bus:          msgBus,
		results:      results,
		log: klog.Signer.With().
			Uint64("reward_cycle", cfg.RewardCycle).
			Uint32("signer_id", cfg.SignerID).
			Logger(),
	}

	state, err := db.GetSignerState(cfg.SignerID, cfg.RewardCycle)
	if err != nil {
		return nil, fmt.Errorf("load signer state: %w", err)
	}
	if state != nil {
		s.log.Debug().Msg("Loading persisted signer state")
		if err := signingRound.LoadState(state); err != nil {
			return nil, fmt.Errorf("restore signer state: %w", err)
		}
	}
	return s, nil
}

// RewardCycle returns the cycle this signer is registered for.
func (s *Signer) RewardCycle() uint64 {
	return s.cfg.RewardCycle
}

// State returns the signer's lifecycle state.
func (s *Signer) State() State {
	return s.state
}

// finishOperation returns to idle and releases the coordinator timer.
func (s *Signer) finishOperation() {
	s.state = StateIdle
	s.selector.ResetMessageTime()
}

// updateOperation marks an operation in flight and refreshes the
// coordinator timer.
func (s *Signer) updateOperation() {
	s.state = StateOperationInProgress
	s.selector.TouchMessageTime()
}

// QueueCommand appends a command to the queue.
func (s *Signer) QueueCommand(cmd Command) {
	s.commands = append(s.commands, cmd)
}

// ProcessNextCommand dequeues and executes the head command if this
// signer is the idle coordinator.
func (s *Signer) ProcessNextCommand() {
	coordinatorID, _ := s.selector.Coordinator()
	switch s.state {
	case StateIdle:
		if coordinatorID != s.cfg.SignerID {
			s.log.Debug().Uint32("coordinator_id", coordinatorID).Msg("Not the coordinator; will not process commands")
			return
		}
		if len(s.commands) == 0 {
			s.log.Debug().Msg("Nothing to process; waiting for command")
			return
		}
		cmd := s.commands[0]
		s.commands = s.commands[1:]
		s.executeCommand(cmd)
	case StateOperationInProgress:
		// The running operation must finish before the next command.
		s.log.Debug().Uint32("coordinator_id", coordinatorID).Msg("Waiting for coordinator operation to finish")
	}
}

// executeCommand runs one command and updates state accordingly.
func (s *Signer) executeCommand(cmd Command) {
	switch cmd.Kind {
	case CommandDkg:
		if s.approvedAggregateKey != nil {
			s.log.Debug().Msg("Already have an aggregate key; ignoring DKG command")
			return
		}
		round, err := nodeclient.RetryValue(func() (uint64, error) {
			r, exists, err := s.node.LastDkgRound(s.cfg.RewardCycle)
			if err != nil {
				return 0, err
			}
			if !exists {
				return 0, nil
			}
			return r, nil
		})
		if err != nil {
			s.log.Error().Err(err).Msg("Unable to perform DKG: failed to get last vote round from node")
			return
		}
		// The dkg id increments inside StartDkgRound; do not bump here.
		s.coordinator.SetCurrentDkgID(round)
		s.log.Info().Uint64("round", round+1).Msg("Starting DKG round")
		packet, err := s.coordinator.StartDkgRound()
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to start DKG round")
			return
		}
		s.sendPacket(packet)

	case CommandSign:
		if s.approvedAggregateKey == nil {
			s.log.Debug().Msg("Cannot sign a block without an approved aggregate key; ignoring")
			return
		}
		hash := cmd.Block.SignerSignatureHash()
		info, err := s.db.BlockLookup(hash)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to look up block")
			return
		}
		if info == nil {
			info = signerdb.NewBlockInfo(cmd.Block)
		}
		if info.SignedOver {
			s.log.Debug().Msg("Received a sign command for a block already being signed over; ignoring")
			return
		}
		s.log.Info().
			Str("signer_signature_hash", hash.String()).
			Uint64("chain_length", cmd.Block.Header.ChainLength).
			Msg("Signing block")
		message, err := json.Marshal(cmd.Block)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to serialize block for signing")
			return
		}
		packet, err := s.coordinator.StartSigningRound(message, cmd.IsTaproot, cmd.MerkleRoot)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to start signing round")
			return
		}
		s.sendPacket(packet)
		info.SignedOver = true
		if err := s.db.InsertBlock(info); err != nil {
			s.log.Error().Err(err).Msg("Failed to insert block into DB")
		}
	}
	s.updateOperation()
}

// ProcessEvent handles one event from the observer, in arrival order.
func (s *Signer) ProcessEvent(event Event, currentRewardCycle uint64) {
	switch ev := event.(type) {
	case *BlockValidationEvent:
		s.log.Debug().Msg("Received a block validation response from the node")
		s.handleBlockValidationResponse(ev)
	case *SignerMessagesEvent:
		if ev.RewardCycle != s.cfg.RewardCycle {
			s.log.Debug().Msg("Received a signer message for a reward cycle that does not belong to this signer; ignoring")
			return
		}
		s.log.Debug().Int("count", len(ev.Messages)).Msg("Received messages from other signers")
		s.handleSignerMessages(ev.Messages)
	case *ProposedBlocksEvent:
		if currentRewardCycle != s.cfg.RewardCycle {
			// This signer can never contribute to signing these blocks.
			s.log.Debug().Uint64("current_reward_cycle", currentRewardCycle).Msg("Received a proposed block for another cycle; ignoring")
			return
		}
		s.log.Debug().Int("count", len(ev.Blocks)).Msg("Received block proposals from the miners")
		s.handleProposedBlocks(ev.Blocks)
	case *StatusCheckEvent:
		s.log.Debug().Msg("Received a status check event")
	case nil:
		s.log.Debug().Msg("No event received")
	}
}

// handleBlockValidationResponse processes the node's verdict on a block
// previously submitted for validation.
func (s *Signer) handleBlockValidationResponse(ev *BlockValidationEvent) {
	info, err := s.db.BlockLookup(ev.SignerSignatureHash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to look up block in signer db")
		return
	}
	if info == nil {
		// A verdict for a block never submitted.
		s.log.Warn().
			Str("signer_signature_hash", ev.SignerSignatureHash.String()).
			Msg("Received a block validate response for an unknown block; ignoring")
		return
	}

	if ev.Valid {
		isValid := s.verifyBlockTransactions(info.Block)
		info.Valid = &isValid
		s.log.Info().
			Str("block_id", info.Block.BlockID().String()).
			Bool("valid", isValid).
			Msg("Block validation result recorded")
	} else {
		invalid := false
		info.Valid = &invalid
		// Tell the miners so they know to propose another block.
		s.log.Warn().Msg("Broadcasting a block rejection due to node validation failure")
		rejection := bus.NewBlockRejection(ev.SignerSignatureHash, bus.RejectValidationFailed)
		if err := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.BlockRejectionMessage(rejection)); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send block rejection to the bus")
		}
	}

	if info.NonceRequest != nil {
		s.log.Debug().Msg("Received validation for a block with a pending nonce request; replaying the request")
		request := info.NonceRequest
		info.NonceRequest = nil
		s.determineVote(info, request)
		packet := &threshold.Packet{Msg: *request}
		if err := s.db.InsertBlock(info); err != nil {
			s.log.Error().Err(err).Msg("Failed to insert block into DB")
		}
		s.handlePackets([]*threshold.Packet{packet})
		return
	}

	coordinatorID, _ := s.selector.Coordinator()
	if info.Valid != nil && *info.Valid && !info.SignedOver && coordinatorID == s.cfg.SignerID {
		s.log.Debug().
			Str("signer_signature_hash", ev.SignerSignatureHash.String()).
			Msg("Triggering a signing round over the block")
		s.QueueCommand(Command{Kind: CommandSign, Block: info.Block})
	} else {
		s.log.Debug().
			Bool("signed_over", info.SignedOver).
			Uint32("coordinator_id", coordinatorID).
			Msg("Ignoring block")
	}
	if err := s.db.InsertBlock(info); err != nil {
		s.log.Error().Err(err).Msg("Failed to insert block into DB")
	}
}

// handleSignerMessages filters a bus batch down to verifiable packets
// and runs them through the packet pipeline.
func (s *Signer) handleSignerMessages(messages []*bus.SignerMessage) {
	_, coordinatorKey := s.selector.Coordinator()
	var packets []*threshold.Packet
	for _, msg := range messages {
		if msg.Kind != bus.KindPacket {
			// Block responses and transaction sets are inputs for other
			// consumers; the packet pipeline ignores them.
			continue
		}
		if packet := s.verifyPacket(msg.Packet, coordinatorKey); packet != nil {
			packets = append(packets, packet)
		}
	}
	s.handlePackets(packets)
}

// handleProposedBlocks caches each proposal and submits it to the local
// node for validation.
func (s *Signer) handleProposedBlocks(blocks []*block.Block) {
	for _, blk := range blocks {
		if err := s.db.InsertBlock(signerdb.NewBlockInfo(blk)); err != nil {
			s.log.Error().Err(err).Msg("Failed to insert block into DB")
			continue
		}
		if err := nodeclient.RetryWithBackoff(func() error {
			return s.node.SubmitBlockForValidation(blk)
		}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to submit block for validation")
		}
	}
}

// handlePackets processes inbound packets as both a participant and a
// coordinator, sends outbound packets, and dispatches operation
// results. Participant responses go out before coordinator broadcasts,
// so a coordinator that is also a signer publishes its own response
// first.
func (s *Signer) handlePackets(packets []*threshold.Packet) {
	signerOutbound, err := s.signingRound.ProcessInboundMessages(packets)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to process inbound messages as a signer")
		signerOutbound = nil
	}

	coordinatorOutbound, results, err := s.coordinator.ProcessInboundMessages(packets)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to process inbound messages as a coordinator")
		coordinatorOutbound, results = nil, nil
	}

	if len(results) > 0 {
		// A round terminated, successfully or not; either way the
		// operation is over.
		s.processOperationResults(results)
		s.sendOperationResults(results)
		s.finishOperation()
	} else if len(packets) > 0 && s.coordinator.State() != threshold.StateIdle {
		s.updateOperation()
	}

	s.log.Debug().Msg("Saving signing round state")
	s.saveSigningRound()
	for _, packet := range signerOutbound {
		s.sendPacket(packet)
	}
	for _, packet := range coordinatorOutbound {
		s.sendPacket(packet)
	}
}

// verifyPacket authenticates a packet and validates coordinator
// requests, rewriting their message where this signer's recorded vote
// differs from what the coordinator sent.
func (s *Signer) verifyPacket(packet *threshold.Packet, coordinatorKey []byte) *threshold.Packet {
	if !s.verifier.Verify(packet, coordinatorKey) {
		s.log.Debug().Str("kind", packet.Msg.Kind.String()).Msg("Failed to verify packet")
		return nil
	}
	switch packet.Msg.Kind {
	case threshold.MsgSignatureShareRequest:
		if !s.validateSignatureShareRequest(&packet.Msg) {
			return nil
		}
	case threshold.MsgNonceRequest:
		if !s.validateNonceRequest(&packet.Msg) {
			return nil
		}
	}
	return packet
}

// validateNonceRequest decodes the request's message as a block and
// decides whether this signer can answer it yet. Returns false while
// the node's verdict is pending.
func (s *Signer) validateNonceRequest(request *threshold.Message) bool {
	var blk block.Block
	if err := json.Unmarshal(request.Message, &blk); err != nil || blk.Header == nil {
		// Only block signing requests are answerable.
		s.log.Debug().Msg("Received a nonce request for an unknown message stream; rejecting")
		return false
	}
	hash := blk.SignerSignatureHash()
	info, err := s.db.BlockLookup(hash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to look up block in signer db")
		return false
	}
	if info == nil {
		s.log.Debug().Msg("Nonce request for an unseen block; caching the request and submitting the block for validation")
		info = signerdb.NewBlockInfoWithRequest(&blk, request)
		if err := s.db.InsertBlock(info); err != nil {
			s.log.Error().Err(err).Msg("Failed to insert block into DB")
		}
		if err := nodeclient.RetryWithBackoff(func() error {
			return s.node.SubmitBlockForValidation(&blk)
		}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to submit block for validation")
		}
		return false
	}

	if info.Valid == nil {
		// Still waiting on the node; the request replays when the
		// verdict arrives.
		s.log.Debug().Msg("Nonce request for a block still pending validation; caching the request")
		info.NonceRequest = request
		if err := s.db.InsertBlock(info); err != nil {
			s.log.Error().Err(err).Msg("Failed to insert block into DB")
		}
		return false
	}

	s.determineVote(info, request)
	if err := s.db.InsertBlock(info); err != nil {
		s.log.Error().Err(err).Msg("Failed to insert block into DB")
	}
	return true
}

// validateSignatureShareRequest matches the request against this
// signer's recorded vote. The recorded vote overwrites the request
// message, guarding against a coordinator that asks signers to sign
// something other than what they agreed to.
func (s *Signer) validateSignatureShareRequest(request *threshold.Message) bool {
	vote, err := block.ParseVote(request.Message)
	if err != nil {
		// Only block votes are signed.
		s.log.Debug().Msg("Received a signature share request for an unknown message stream; rejecting")
		return false
	}
	info, err := s.db.BlockLookup(vote.SignerSignatureHash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to look up block in signer db")
		return false
	}
	switch {
	case info == nil:
		// No nonce request was ever validated for this block; there is
		// no context to sign against.
		s.log.Debug().Msg("Received a signature share request for an unknown block; rejecting")
		return false
	case info.Vote == nil:
		// This signer never agreed to sign the block. The coordinator
		// may have gathered enough other votes before our validation
		// arrived.
		s.log.Debug().Msg("Received a signature share request for a block we never agreed to sign; rejecting")
		return false
	default:
		s.log.Debug().Bool("rejected", info.Vote.Rejected).Msg("Overwriting signature share request with the recorded vote")
		request.Message = info.Vote.Serialize()
		return true
	}
}

// determineVote decides this signer's vote on a block and rewrites the
// nonce request's message to the serialized vote.
func (s *Signer) determineVote(info *signerdb.BlockInfo, request *threshold.Message) {
	rejected := info.Valid == nil || !*info.Valid
	if rejected {
		s.log.Debug().Str("block_id", info.Block.BlockID().String()).Msg("Rejecting block")
	} else {
		s.log.Debug().Str("block_id", info.Block.BlockID().String()).Msg("Accepting block")
	}
	vote := &block.Vote{
		SignerSignatureHash: info.Block.SignerSignatureHash(),
		Rejected:            rejected,
	}
	info.Vote = vote
	request.Message = vote.Serialize()
}

// saveSigningRound persists the participant state needed to continue
// DKG and signing rounds across restarts.
func (s *Signer) saveSigningRound() {
	state, err := s.signingRound.SaveState()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to serialize signer state")
		return
	}
	if err := s.db.InsertSignerState(s.cfg.SignerID, s.cfg.RewardCycle, state); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist signer state")
	}
}

// sendPacket publishes one packet to the bus with retry.
func (s *Signer) sendPacket(packet *threshold.Packet) {
	if packet == nil {
		return
	}
	if err := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.PacketMessage(packet)); err != nil {
		s.log.Warn().Err(err).Str("kind", packet.Msg.Kind.String()).Msg("Failed to send packet to the bus")
	}
}

// sendOperationResults forwards terminal results to the observer.
func (s *Signer) sendOperationResults(results []threshold.OperationResult) {
	if s.results == nil {
		return
	}
	select {
	case s.results <- results:
		s.log.Debug().Int("count", len(results)).Msg("Sent operation results")
	default:
		s.log.Warn().Int("count", len(results)).Msg("Operation result channel full; dropping")
	}
}

package signer

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/Klingon-tech/embernet-chain/internal/bus"
	"github.com/Klingon-tech/embernet-chain/internal/nodeclient"
	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/tx"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// errNoAccountState marks an expected-transaction check that could not
// reach any account state on the node.
var errNoAccountState = errors.New("no account state available from node")

// verifyBlockTransactions checks that a proposed block carries every
// vote transaction the next signer set expects. Once an aggregate key
// is ratified there is nothing to enforce.
func (s *Signer) verifyBlockTransactions(blk *block.Block) bool {
	if s.approvedAggregateKey != nil {
		s.log.Debug().Msg("Already have an aggregate key; skipping transaction verification")
		return true
	}
	expected, err := s.expectedTransactions()
	if err != nil {
		// Without the node there is no way to validate; reject so the
		// miner knows signers could not check the block.
		s.log.Debug().Err(err).Msg("Broadcasting a block rejection due to node connectivity issues")
		rejection := bus.NewBlockRejection(blk.SignerSignatureHash(), bus.RejectConnectivityIssues)
		if sendErr := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.BlockRejectionMessage(rejection)); sendErr != nil {
			s.log.Warn().Err(sendErr).Msg("Failed to send block rejection to the bus")
		}
		return false
	}

	blockTxIDs := make(map[types.TxID]struct{}, len(blk.Transactions))
	for _, txn := range blk.Transactions {
		blockTxIDs[txn.TxID()] = struct{}{}
	}
	var missing []*tx.Transaction
	for _, txn := range expected {
		if _, ok := blockTxIDs[txn.TxID()]; !ok {
			s.log.Debug().Str("txid", txn.TxID().String()).Msg("Expected transaction missing from block")
			missing = append(missing, txn)
		}
	}
	if len(missing) == 0 {
		return true
	}

	s.log.Debug().Int("missing", len(missing)).Msg("Broadcasting a block rejection due to missing expected transactions")
	rejection := bus.NewBlockRejection(blk.SignerSignatureHash(), bus.RejectMissingTransactions)
	rejection.MissingTransactions = missing
	if err := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.BlockRejectionMessage(rejection)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send block rejection to the bus")
	}
	return false
}

// expectedTransactions returns the next cycle's vote transactions that
// proposed blocks must include: the latest valid vote per next-signer
// address, read from the bus and filtered by account nonce.
func (s *Signer) expectedTransactions() ([]*tx.Transaction, error) {
	if len(s.cfg.NextSignerSlots) == 0 {
		s.log.Debug().Msg("No next signers; skipping transaction retrieval")
		return nil, nil
	}
	nonces := s.accountNonces(s.cfg.NextSignerAddresses)
	messages := s.bus.SlotTransactions(s.cfg.RewardCycle+1, s.cfg.NextSignerSlots)
	if len(nonces) == 0 {
		// Account state is unreachable; treat as a connectivity failure
		// rather than silently expecting nothing.
		return nil, errNoAccountState
	}
	// One enforced transaction per signer address per block.
	filtered := s.filterVoteTransactions(nonces, messages)
	out := make([]*tx.Transaction, 0, len(filtered))
	for _, txn := range filtered {
		out = append(out, txn)
	}
	return out, nil
}

// signerTransactions returns this signer's own pending vote
// transactions from its bus slot, nonce-filtered.
func (s *Signer) signerTransactions(nonces map[types.Address]uint64) []*tx.Transaction {
	messages := s.bus.SlotTransactions(s.cfg.RewardCycle, []uint32{s.bus.Slot()})
	var out []*tx.Transaction
	for _, msg := range messages {
		if msg.Kind != bus.KindTransactions {
			continue
		}
		for _, txn := range msg.Transactions {
			if s.validVoteTransaction(nonces, txn) {
				out = append(out, txn)
			}
		}
	}
	return out
}

// accountNonces fetches the account nonce for each address, skipping
// addresses the node cannot answer for.
func (s *Signer) accountNonces(addresses []types.Address) map[types.Address]uint64 {
	nonces := make(map[types.Address]uint64, len(addresses))
	for _, addr := range addresses {
		nonce, err := nodeclient.RetryValue(func() (uint64, error) {
			return s.node.AccountNonce(addr)
		})
		if err != nil {
			s.log.Warn().Str("address", addr.String()).Err(err).Msg("Unable to get account nonce")
			continue
		}
		nonces[addr] = nonce
	}
	return nonces
}

// validVoteTransaction checks that a bus transaction is an
// aggregate-key vote this chain would accept: the right network, a
// known origin, and a nonce not already consumed on chain.
func (s *Signer) validVoteTransaction(nonces map[types.Address]uint64, txn *tx.Transaction) bool {
	if txn == nil || txn.Auth == nil {
		return false
	}
	if _, ok := tx.AggregateKeyVoteFrom(txn); !ok {
		return false
	}
	origin := tx.OriginAddress(txn, s.cfg.Mainnet)
	accountNonce, known := nonces[origin]
	if !known {
		return false
	}
	return txn.Auth.OriginNonce() >= accountNonce
}

// filterVoteTransactions reduces bus messages to at most one valid vote
// transaction per origin address, preferring the highest nonce.
func (s *Signer) filterVoteTransactions(nonces map[types.Address]uint64,
	messages []*bus.SignerMessage) map[types.Address]*tx.Transaction {

	filtered := make(map[types.Address]*tx.Transaction)
	for _, msg := range messages {
		if msg.Kind != bus.KindTransactions {
			continue
		}
		for _, txn := range msg.Transactions {
			if !s.validVoteTransaction(nonces, txn) {
				continue
			}
			origin := tx.OriginAddress(txn, s.cfg.Mainnet)
			if existing, ok := filtered[origin]; ok && existing.Auth.OriginNonce() >= txn.Auth.OriginNonce() {
				continue
			}
			filtered[origin] = txn
		}
	}
	return filtered
}

// processOperationResults dispatches terminal round outcomes:
// signatures become block responses, DKG keys become ratification
// votes, signing errors become rejections, and DKG errors are logged.
func (s *Signer) processOperationResults(results []threshold.OperationResult) {
	for _, result := range results {
		switch result.Kind {
		case threshold.ResultSignature:
			s.log.Debug().Msg("Received signature result")
			s.processSignature(result.Signature)
		case threshold.ResultSignatureTaproot:
			// Blocks are signed with plain threshold signatures; there
			// is nothing to broadcast for a taproot result.
			s.log.Debug().Msg("Received a taproot signature result; nothing to broadcast")
		case threshold.ResultDkg:
			s.processDkgResult(result.DkgKey)
		case threshold.ResultSignError:
			s.log.Warn().Err(result.Err).Msg("Received a sign error")
			s.processSignError()
		case threshold.ResultDkgError:
			s.log.Warn().Err(result.Err).Msg("Received a DKG error")
		}
	}
}

// processSignature broadcasts the accept/reject block response a
// completed signing round produced.
func (s *Signer) processSignature(signature []byte) {
	vote, err := block.ParseVote(s.coordinator.CurrentMessage())
	if err != nil {
		s.log.Debug().Msg("Received a signature result for a non-block; nothing to broadcast")
		return
	}

	// The block is decided; drop it from the store. This is currently
	// the only block garbage collection.
	if err := s.db.RemoveBlock(vote.SignerSignatureHash); err != nil {
		s.log.Error().Err(err).Msg("Failed to remove block from signer DB")
	}

	var response *bus.BlockResponse
	if vote.Rejected {
		rejection := bus.NewBlockRejection(vote.SignerSignatureHash, bus.RejectedInVote)
		rejection.Signature = signature
		response = bus.RejectedBlockResponse(rejection)
	} else {
		response = bus.AcceptedBlockResponse(vote.SignerSignatureHash, signature)
	}

	s.log.Debug().Bool("rejected", vote.Rejected).Msg("Submitting block response")
	if err := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.BlockResponseMessage(response)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send block response to the bus")
	}
}

// processSignError broadcasts a rejection for the block whose signing
// round failed. The first signing request carries the whole block; the
// rest carry votes over its hash, so both decodings are tried.
func (s *Signer) processSignError() {
	message := s.coordinator.CurrentMessage()

	var blk block.Block
	if err := json.Unmarshal(message, &blk); err != nil || blk.Header == nil {
		vote, err := block.ParseVote(message)
		if err != nil {
			s.log.Debug().Msg("Received a signature error for a non-block; nothing to broadcast")
			return
		}
		info, lookupErr := s.db.BlockLookup(vote.SignerSignatureHash)
		if lookupErr != nil {
			s.log.Error().Err(lookupErr).Msg("Failed to look up block in signer db")
			return
		}
		if info == nil {
			s.log.Debug().Msg("Received a signature error for an unknown block; ignoring")
			return
		}
		blk = *info.Block
	}

	rejection := bus.NewBlockRejection(blk.SignerSignatureHash(), bus.RejectSigningFailed)
	s.log.Debug().Str("signer_signature_hash", rejection.SignerSignatureHash.String()).Msg("Broadcasting block rejection")
	if err := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.BlockRejectionMessage(rejection)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send block rejection to the bus")
	}
}

// processDkgResult turns a completed DKG into a ratification vote
// transaction and broadcasts it per the current epoch's rules.
func (s *Signer) processDkgResult(dkgKey []byte) {
	epoch, err := nodeclient.RetryValue(func() (types.EpochID, error) {
		return s.node.NodeEpoch()
	})
	if err != nil {
		epoch = types.Epoch24
	}

	var feeRate uint64
	if epoch < types.Epoch30 {
		// Pre-3.0 the vote rides the mempool and must pay its way.
		s.log.Debug().Msg("Pre-3.0 epoch; attaching a transaction fee to the DKG vote")
		feeRate = s.cfg.TxFee
	}

	// Other signers' transactions may share this signer's slot view, so
	// fetch every signer address's nonce.
	nonces := s.accountNonces(s.cfg.SignerAddresses)
	ownAddress := tx.OriginAddress(&tx.Transaction{Auth: s.ownAuth()}, s.cfg.Mainnet)
	accountNonce := nonces[ownAddress]

	pending := s.signerTransactions(nonces)

	// Drop the new vote if an equivalent one is already pending.
	round := s.coordinator.CurrentDkgID()
	for _, txn := range pending {
		vote, ok := tx.AggregateKeyVoteFrom(txn)
		if !ok {
			continue
		}
		if bytes.Equal(vote.Key, dkgKey) && vote.Round == round && vote.RewardCycle == s.cfg.RewardCycle {
			s.log.Debug().
				Str("txid", txn.TxID().String()).
				Uint64("round", round).
				Msg("Not broadcasting DKG vote; an equivalent transaction is already pending")
			return
		}
	}

	// A pending transaction occupies a nonce the chain has not seen
	// yet; the new vote must come after it.
	nextNonce := accountNonce
	if len(pending) > 0 {
		if candidate := pending[0].Auth.OriginNonce() + 1; candidate > nextNonce {
			nextNonce = candidate
		}
	}

	newTx, err := s.buildAggregateKeyVote(dkgKey, round, nextNonce, feeRate)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to build DKG vote transaction")
		return
	}
	if err := s.broadcastDkgVote(epoch, pending, newTx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to broadcast DKG vote")
	}
}

// ownAuth builds this signer's single-sig spending condition.
func (s *Signer) ownAuth() *tx.Auth {
	origin, err := tx.NewSinglesigP2PKH(s.cfg.PrivateKey.PublicKey())
	if err != nil {
		// Unreachable for a well-formed key.
		panic(err)
	}
	return tx.NewStandardAuth(origin)
}

// buildAggregateKeyVote builds and signs the ratification vote for an
// aggregate key.
func (s *Signer) buildAggregateKeyVote(dkgKey []byte, round, nonce, feeRate uint64) (*tx.Transaction, error) {
	auth := s.ownAuth()
	auth.SetOriginNonce(nonce)
	auth.SetFeeRate(feeRate)
	payload := &tx.AggregateKeyVote{
		Round:       round,
		RewardCycle: s.cfg.RewardCycle,
		Key:         dkgKey,
	}
	txn := tx.New(s.cfg.ChainID, auth, payload)
	if _, err := txn.SignNextOrigin(txn.InitialSighash(), s.cfg.PrivateKey); err != nil {
		return nil, err
	}
	return txn, nil
}

// broadcastDkgVote publishes the vote transaction per epoch: from 3.0
// on the bus alone suffices, 2.5 additionally submits to the mempool,
// and earlier epochs cannot carry the vote at all.
func (s *Signer) broadcastDkgVote(epoch types.EpochID, pending []*tx.Transaction, newTx *tx.Transaction) error {
	txid := newTx.TxID()
	if s.approvedAggregateKey != nil {
		s.log.Info().Str("txid", txid.String()).Msg("Already have an approved aggregate key; not broadcasting the vote")
		return nil
	}
	switch {
	case epoch >= types.Epoch30:
		s.log.Debug().Msg("Epoch 3.0 or later; broadcasting the vote to the bus only")
	case epoch == types.Epoch25:
		s.log.Debug().Msg("Epoch 2.5; submitting the vote to the mempool")
		if err := nodeclient.RetryWithBackoff(func() error {
			return s.node.SubmitTransaction(newTx)
		}); err != nil {
			return err
		}
		s.log.Info().Str("txid", txid.String()).Msg("Submitted DKG vote transaction to the mempool")
	default:
		s.log.Warn().Str("epoch", epoch.String()).Msg("Unsupported epoch for DKG vote; not broadcasting")
		return nil
	}

	transactions := append(append([]*tx.Transaction(nil), pending...), newTx)
	if err := s.bus.SendMessageWithRetry(s.cfg.RewardCycle, bus.TransactionsMessage(transactions)); err != nil {
		return err
	}
	s.log.Info().Str("txid", txid.String()).Msg("Broadcast DKG vote transaction to the bus")
	return nil
}

// UpdateDKG refreshes the ratified aggregate key from the node and, if
// this signer is the idle coordinator with no equivalent vote already
// pending or recorded, queues a DKG round.
func (s *Signer) UpdateDKG() error {
	approved, err := s.node.ApprovedAggregateKey(s.cfg.RewardCycle)
	if err != nil {
		return err
	}
	s.approvedAggregateKey = approved
	if approved != nil {
		s.coordinator.SetAggregateKey(approved)
		s.log.Debug().Msg("Aggregate key already ratified; no DKG needed")
		return nil
	}

	coordinatorID, _ := s.selector.Coordinator()
	if s.cfg.SignerID != coordinatorID || s.state != StateIdle {
		return nil
	}

	s.log.Debug().Msg("Checking for an existing vote transaction before triggering DKG")
	ownAddress := tx.OriginAddress(&tx.Transaction{Auth: s.ownAuth()}, s.cfg.Mainnet)
	nonces := s.accountNonces([]types.Address{ownAddress})
	round := s.coordinator.CurrentDkgID()
	for _, txn := range s.signerTransactions(nonces) {
		vote, ok := tx.AggregateKeyVoteFrom(txn)
		if !ok {
			continue
		}
		if vote.Round == round && vote.RewardCycle == s.cfg.RewardCycle {
			s.log.Debug().
				Str("txid", txn.TxID().String()).
				Uint64("round", vote.Round).
				Msg("Not triggering a DKG round; a vote transaction is already pending")
			return nil
		}
	}

	recorded, err := s.node.VoteForAggregateKey(round, s.cfg.RewardCycle, ownAddress)
	if err != nil {
		return err
	}
	if recorded != nil {
		s.log.Debug().Msg("Not triggering a DKG round; already voted and waiting for more votes to arrive")
		return nil
	}

	if len(s.commands) == 0 || s.commands[0].Kind != CommandDkg {
		s.log.Info().Msg("This signer is the coordinator and must trigger DKG; queuing DKG command")
		s.commands = append([]Command{{Kind: CommandDkg}}, s.commands...)
	}
	return nil
}

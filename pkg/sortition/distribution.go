// Package sortition builds the burn-weighted distribution that decides,
// at each parent-chain block, which candidate leader wins the right to
// produce the next block. Each candidate's slice of the 256-bit hash
// space is proportional to the coins burned for it.
package sortition

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/embernet-chain/pkg/bnum"
	"github.com/Klingon-tech/embernet-chain/pkg/burnops"
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// SamplePoint is one candidate's slice of the sortition hash space.
// The half-open range [RangeStart, RangeEnd) covers a share of
// [0, 2^256) proportional to Burns over the block's total burn.
type SamplePoint struct {
	// Burns is the candidate's total burn weight: the commit's own fee
	// plus every matched user support burn.
	Burns bnum.U256

	RangeStart bnum.U256
	RangeEnd   bnum.U256

	Candidate burnops.BlockCommitOp
	Key       burnops.LeaderKeyRegisterOp
	UserBurns []burnops.UserBurnSupportOp
}

// keyLoc addresses a leader key by its position on the parent chain.
type keyLoc struct {
	height   uint64
	vtxindex uint32
}

// burnTarget addresses a (VRF key, committed block) pair a user burn
// supports.
type burnTarget struct {
	vrfKey    string
	blockHash types.Hash160
}

// MakeDistribution builds the sortition distribution for one parent-chain
// block from its block commits, the leader keys those commits consume, and
// the block's user support burns.
//
// All operations must come from the same parent-chain height, commits and
// keys must pair one-to-one, and every commit's key back-pointer must
// resolve. Violations are programmer errors — the upstream DB enforces
// these invariants, so a failure here means a prior step corrupted state
// and the function panics rather than continuing.
//
// Samples appear in commit input order; that ordering is part of the
// consensus contract.
func MakeDistribution(log zerolog.Logger, commits []burnops.BlockCommitOp,
	keys []burnops.LeaderKeyRegisterOp, userBurns []burnops.UserBurnSupportOp) []SamplePoint {

	if len(commits) == 0 {
		return nil
	}

	sanityCheck(commits, userBurns)

	if len(commits) != len(keys) {
		panic(fmt.Sprintf("sortition: %d block commits != %d leader keys", len(commits), len(keys)))
	}

	// Index each consumed leader key by its chain position. The DB
	// guarantees no two keys share a position.
	keyIndex := make(map[keyLoc]int, len(keys))
	for i := range keys {
		loc := keyLoc{height: keys[i].BlockHeight, vtxindex: keys[i].VTxIndex}
		if _, dup := keyIndex[loc]; dup {
			panic(fmt.Sprintf("sortition: duplicate leader key at (%d,%d)", loc.height, loc.vtxindex))
		}
		keyIndex[loc] = i
	}

	sample := make([]SamplePoint, 0, len(commits))
	for i := range commits {
		commit := commits[i]
		loc := keyLoc{height: commit.KeyBlockHeight(), vtxindex: uint32(commit.KeyVTxIndex)}
		keyIdx, ok := keyIndex[loc]
		if !ok {
			// Should never happen -- the DB only accepts a block commit
			// if it matches a registered VRF public key.
			panic(fmt.Sprintf("sortition: no leader key for block commit %s (at %d,%d) -- points to (%d,%d)",
				commit.TxID, commit.BlockHeight, commit.VTxIndex, loc.height, loc.vtxindex))
		}
		sample = append(sample, SamplePoint{
			Burns:     bnum.U256FromUint64(commit.BurnFee),
			Candidate: commit,
			Key:       keys[keyIdx],
		})
	}

	applyUserBurns(log, sample, userBurns)
	makeSortitionRanges(sample)
	return sample
}

// sanityCheck verifies every operation sits at the same parent-chain
// height as the first commit.
func sanityCheck(commits []burnops.BlockCommitOp, userBurns []burnops.UserBurnSupportOp) {
	height := commits[0].BlockHeight
	for i := 1; i < len(commits); i++ {
		if commits[i].BlockHeight != height {
			panic(fmt.Sprintf("sortition: block commit %s is at (%d,%d) not %d",
				commits[i].TxID, commits[i].BlockHeight, commits[i].VTxIndex, height))
		}
	}
	for i := range userBurns {
		if userBurns[i].BlockHeight != height {
			panic(fmt.Sprintf("sortition: user burn %s is at (%d,%d) not %d",
				userBurns[i].TxID, userBurns[i].BlockHeight, userBurns[i].VTxIndex, height))
		}
	}
}

// applyUserBurns folds user support burns into their sample points.
// A burn matches on (VRF public key, truncated committed header hash).
// The pair is unique per sample because the DB requires each VRF key to
// be unique; the truncated block hash alone is not (two leaders can burn
// for the same block). Unmatched burns are logged and discarded — they
// destroyed coins for a candidate nobody committed to.
func applyUserBurns(log zerolog.Logger, sample []SamplePoint, userBurns []burnops.UserBurnSupportOp) {
	burnIndex := make(map[burnTarget]int, len(sample))
	for i := range sample {
		target := burnTarget{
			vrfKey:    sample[i].Key.PublicKey.String(),
			blockHash: crypto.Hash160(sample[i].Candidate.BlockHeaderHash[:]),
		}
		if _, dup := burnIndex[target]; dup {
			panic(fmt.Sprintf("sortition: duplicate (key, block) pair for VRF key %s", target.vrfKey))
		}
		burnIndex[target] = i
	}

	for i := range userBurns {
		burn := userBurns[i]
		target := burnTarget{vrfKey: burn.PublicKey.String(), blockHash: burn.BlockHeaderHash160}
		idx, ok := burnIndex[target]
		if !ok {
			log.Info().
				Str("txid", burn.TxID.String()).
				Uint64("height", burn.BlockHeight).
				Uint32("vtxindex", burn.VTxIndex).
				Uint64("burn_fee", burn.BurnFee).
				Str("vrf_key", burn.PublicKey.String()).
				Str("block_hash_160", burn.BlockHeaderHash160.String()).
				Msg("User burn has no matching block commit")
			continue
		}
		fee := bnum.U256FromUint64(burn.BurnFee)
		sample[idx].Burns.Add(&sample[idx].Burns, &fee)
		sample[idx].UserBurns = append(sample[idx].UserBurns, burn)
	}
}

// makeSortitionRanges assigns each sample its slice of [0, 2^256).
// Computed in 512-bit fixed point: the upper 256 bits are the integer
// part and the lower 256 bits the fraction, so
// rangeEnd_i = U256Max * (cumulative burns through i) / totalBurns.
func makeSortitionRanges(sample []SamplePoint) {
	if len(sample) == 0 {
		return
	}
	if len(sample) == 1 {
		sample[0].RangeStart = bnum.U256Zero()
		sample[0].RangeEnd = bnum.U256Max()
		return
	}

	total := bnum.U512{}
	for i := range sample {
		total = total.Add(bnum.U512FromU256(sample[i].Burns))
	}

	max := bnum.U512FromU256(bnum.U256Max())
	acc := bnum.U512{}
	prevEnd := bnum.U256Zero()
	for i := range sample {
		acc = acc.Add(bnum.U512FromU256(sample[i].Burns))
		end, err := max.Mul(acc).Div(total).ToU256()
		if err != nil {
			// Unreachable: acc <= total keeps the quotient within 256 bits.
			panic(fmt.Sprintf("sortition: range endpoint overflow: %v", err))
		}
		sample[i].RangeStart = prevEnd
		sample[i].RangeEnd = end
		prevEnd = end
	}
}

// TotalBurns sums the burn weight across the distribution. Returns false
// if the sum meets or exceeds 2^64 - 1 — burns beyond that are not
// representable as a parent-chain amount.
func TotalBurns(dist []SamplePoint) (uint64, bool) {
	total := bnum.U256Zero()
	for i := range dist {
		total.Add(&total, &dist[i].Burns)
	}
	if !total.IsUint64() || total.Uint64() >= ^uint64(0) {
		return 0, false
	}
	return total.Uint64(), true
}

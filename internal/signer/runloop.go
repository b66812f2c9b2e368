package signer

import (
	"context"
	"fmt"
	"time"

	klog "github.com/Klingon-tech/embernet-chain/internal/log"
	"github.com/Klingon-tech/embernet-chain/internal/nodeclient"
)

// statusCheckInterval paces the self-generated status checks that keep
// DKG election moving when the bus is quiet.
const statusCheckInterval = 30 * time.Second

// Factory builds a signer for a reward cycle. The supervisor calls it
// on startup and at every cycle rollover.
type Factory func(rewardCycle uint64) (*Signer, error)

// RunLoop supervises the active signers: one per reward cycle this
// operator is registered in, fed events one at a time in arrival
// order. On rollover the old signer is discarded after its outstanding
// events drain and a fresh one takes its place.
type RunLoop struct {
	factory Factory
	node    NodeClient

	events  chan Event
	signers map[uint64]*Signer
}

// NewRunLoop builds a supervisor over the given signer factory.
func NewRunLoop(factory Factory, node NodeClient) *RunLoop {
	return &RunLoop{
		factory: factory,
		node:    node,
		events:  make(chan Event, 256),
		signers: make(map[uint64]*Signer),
	}
}

// Events returns the channel observer events are delivered on.
func (r *RunLoop) Events() chan<- Event {
	return r.events
}

// Run drains events until the context is cancelled. Within one signer,
// events are strictly sequential; distinct cycles' signers share
// nothing but the persistence store.
func (r *RunLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(statusCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.dispatch(&StatusCheckEvent{})
		case event := <-r.events:
			r.dispatch(event)
		}
	}
}

// dispatch refreshes the signer set and feeds one event to every
// active signer.
func (r *RunLoop) dispatch(event Event) {
	cycle, err := nodeclient.RetryValue(func() (uint64, error) {
		return r.node.CurrentRewardCycle()
	})
	if err != nil {
		klog.Signer.Warn().Err(err).Msg("Cannot determine current reward cycle; dropping event")
		return
	}
	if err := r.refreshSigners(cycle); err != nil {
		klog.Signer.Warn().Err(err).Msg("Failed to refresh signer set")
	}

	for _, s := range r.signers {
		s.ProcessEvent(event, cycle)
		if _, isStatus := event.(*StatusCheckEvent); isStatus {
			if err := s.UpdateDKG(); err != nil {
				klog.Signer.Warn().Err(err).Uint64("cycle", s.RewardCycle()).Msg("DKG update failed")
			}
		}
		s.ProcessNextCommand()
	}
}

// refreshSigners keeps exactly the current and next cycle's signers
// alive, constructing new ones as cycles roll over.
func (r *RunLoop) refreshSigners(currentCycle uint64) error {
	for cycle := range r.signers {
		if cycle < currentCycle {
			klog.Signer.Info().Uint64("cycle", cycle).Msg("Reward cycle over; discarding its signer")
			delete(r.signers, cycle)
		}
	}
	for _, cycle := range []uint64{currentCycle, currentCycle + 1} {
		if _, ok := r.signers[cycle]; ok {
			continue
		}
		s, err := r.factory(cycle)
		if err != nil {
			return fmt.Errorf("construct signer for cycle %d: %w", cycle, err)
		}
		if s == nil {
			// Not registered in this cycle's signer set.
			continue
		}
		klog.Signer.Info().Uint64("cycle", cycle).Msg("Starting signer for reward cycle")
		r.signers[cycle] = s
	}
	return nil
}

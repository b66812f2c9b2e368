// Package observer implements the HTTP endpoint the local node pushes
// signer events to: block validation verdicts, miner block proposals,
// and status checks. Events are forwarded to the signer run loop in
// arrival order.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/embernet-chain/internal/log"
	"github.com/Klingon-tech/embernet-chain/internal/signer"
	"github.com/Klingon-tech/embernet-chain/pkg/block"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// maxBodySize is the maximum allowed request body size (8 MB): a
// proposed-block batch can carry full blocks.
const maxBodySize = 8 << 20

// Server receives event pushes from the local node.
type Server struct {
	addr   string
	events chan<- signer.Event
	server *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// New creates an observer server forwarding to the given event channel.
func New(addr string, events chan<- signer.Event) *Server {
	s := &Server{
		addr:   addr,
		events: events,
		logger: klog.WithComponent("observer"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/block_validation", s.handleBlockValidation)
	mux.HandleFunc("/v1/proposed_blocks", s.handleProposedBlocks)
	mux.HandleFunc("/v1/status", s.handleStatus)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins listening. Serve runs in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("observer listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Observer server exited")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Event observer listening")
	return nil
}

// Addr returns the bound listen address (useful with port 0).
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// forward enqueues one event, dropping it if the run loop has fallen
// hopelessly behind (the node retries its pushes).
func (s *Server) forward(event signer.Event) bool {
	select {
	case s.events <- event:
		return true
	default:
		s.logger.Warn().Msg("Event queue full; dropping event")
		return false
	}
}

// decode reads and unmarshals a bounded request body.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return false
	}
	return true
}

// blockValidationPush is the node's validation verdict payload.
type blockValidationPush struct {
	SignerSignatureHash types.Hash `json:"signer_signature_hash"`
	Valid               bool       `json:"valid"`
}

func (s *Server) handleBlockValidation(w http.ResponseWriter, r *http.Request) {
	var push blockValidationPush
	if !decode(w, r, &push) {
		return
	}
	s.forward(&signer.BlockValidationEvent{
		SignerSignatureHash: push.SignerSignatureHash,
		Valid:               push.Valid,
	})
	w.WriteHeader(http.StatusOK)
}

// proposedBlocksPush is the miner block proposal payload.
type proposedBlocksPush struct {
	Blocks []*block.Block `json:"blocks"`
}

func (s *Server) handleProposedBlocks(w http.ResponseWriter, r *http.Request) {
	var push proposedBlocksPush
	if !decode(w, r, &push) {
		return
	}
	blocks := push.Blocks[:0]
	for _, blk := range push.Blocks {
		if blk == nil || blk.Header == nil {
			continue
		}
		blocks = append(blocks, blk)
	}
	if len(blocks) > 0 {
		s.forward(&signer.ProposedBlocksEvent{Blocks: blocks})
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.forward(&signer.StatusCheckEvent{})
	w.WriteHeader(http.StatusOK)
}

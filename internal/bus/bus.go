package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"

	klog "github.com/Klingon-tech/embernet-chain/internal/log"
)

const (
	// dhtRendezvousFallback is the default discovery namespace when no
	// NetworkID is set.
	dhtRendezvousFallback = "embernet-signers"

	// dhtDiscoveryInterval is how often DHT FindPeers runs.
	dhtDiscoveryInterval = 30 * time.Second

	// peerConnectTimeout bounds a single outbound connect attempt.
	peerConnectTimeout = 5 * time.Second

	// maxBusMessageSize bounds a gossip frame; packets and transaction
	// batches stay well under this.
	maxBusMessageSize = 2 << 20
)

// Config holds bus configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	NetworkID  string // e.g. "embernet-mainnet-1" — isolates discovery per network
	DataDir    string // persists the node identity; empty = ephemeral
	NoDiscover bool
	DHTServer  bool

	// Slot is this signer's bus slot: the latest-write-wins address
	// its transaction set publishes under.
	Slot uint32
}

// Inbound is a decoded message delivered to the signer run loop.
type Inbound struct {
	RewardCycle uint64
	Slot        uint32
	Message     *SignerMessage
}

// cycleTopics is the gossip topic serving one reward cycle, with its
// subscriptions.
type cycleTopics struct {
	packets *pubsub.Topic
	subs    []*pubsub.Subscription
	cancel  context.CancelFunc
}

// Bus is the gossip node signers exchange messages over. One topic per
// reward cycle carries every message kind; a slot-addressed cache keeps
// the latest transaction set each signer published.
type Bus struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT

	inbound chan Inbound

	mu     sync.RWMutex
	cycles map[uint64]*cycleTopics

	// txCache holds the latest transaction set per (cycle, slot).
	txMu    sync.RWMutex
	txCache map[uint64]map[uint32][]byte // cycle → slot → encoded envelope payload
}

// New creates a bus node with the given config.
func New(cfg Config) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		inbound: make(chan Inbound, 256),
		cycles:  make(map[uint64]*cycleTopics),
		txCache: make(map[uint64]map[uint32][]byte),
	}
}

// rendezvous returns the discovery namespace for this bus.
func (b *Bus) rendezvous() string {
	if b.cfg.NetworkID != "" {
		return "embernet/" + b.cfg.NetworkID
	}
	return dhtRendezvousFallback
}

// topicName returns the gossip topic for a reward cycle.
func (b *Bus) topicName(rewardCycle uint64) string {
	return fmt.Sprintf("%s/signers/%d", b.rendezvous(), rewardCycle)
}

// Start initializes the libp2p host, pubsub, and discovery.
func (b *Bus) Start() error {
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", b.cfg.ListenAddr, b.cfg.Port)
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
	}

	// Load or generate a persistent identity so the peer ID survives
	// restarts.
	if b.cfg.DataDir != "" {
		privKey, err := loadOrCreateIdentity(b.cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load bus identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	b.host = h

	// Init DHT before GossipSub so the DHT can serve as a peer source.
	if !b.cfg.NoDiscover {
		if err := b.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(b.ctx, h,
		pubsub.WithMaxMessageSize(maxBusMessageSize),
	)
	if err != nil {
		b.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	b.pubsub = ps

	b.connectSeeds()

	if !b.cfg.NoDiscover {
		b.startMDNS()
		go b.runDHTDiscovery()
	}

	return nil
}

// Stop shuts the bus down.
func (b *Bus) Stop() error {
	b.cancel()

	b.mu.Lock()
	for cycle, topics := range b.cycles {
		topics.cancel()
		for _, sub := range topics.subs {
			sub.Cancel()
		}
		topics.packets.Close()
		delete(b.cycles, cycle)
	}
	b.mu.Unlock()

	b.closeDHT()
	if b.host != nil {
		return b.host.Close()
	}
	return nil
}

// Inbound returns the channel decoded bus messages arrive on.
func (b *Bus) Inbound() <-chan Inbound {
	return b.inbound
}

// Slot returns this signer's bus slot.
func (b *Bus) Slot() uint32 {
	return b.cfg.Slot
}

// JoinRewardCycle subscribes to a reward cycle's topic. Idempotent.
func (b *Bus) JoinRewardCycle(rewardCycle uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.cycles[rewardCycle]; ok {
		return nil
	}
	if b.pubsub == nil {
		return fmt.Errorf("bus not started")
	}

	topic, err := b.pubsub.Join(b.topicName(rewardCycle))
	if err != nil {
		return fmt.Errorf("join cycle %d topic: %w", rewardCycle, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("subscribe cycle %d: %w", rewardCycle, err)
	}

	ctx, cancel := context.WithCancel(b.ctx)
	b.cycles[rewardCycle] = &cycleTopics{
		packets: topic,
		subs:    []*pubsub.Subscription{sub},
		cancel:  cancel,
	}
	go b.readLoop(ctx, sub)
	return nil
}

// LeaveRewardCycle drops a reward cycle's subscription, typically on
// cycle rollover.
func (b *Bus) LeaveRewardCycle(rewardCycle uint64) {
	b.mu.Lock()
	topics, ok := b.cycles[rewardCycle]
	if ok {
		delete(b.cycles, rewardCycle)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	topics.cancel()
	for _, sub := range topics.subs {
		sub.Cancel()
	}
	topics.packets.Close()

	b.txMu.Lock()
	delete(b.txCache, rewardCycle)
	b.txMu.Unlock()
}

// readLoop drains one subscription into the inbound channel.
func (b *Bus) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	logger := klog.Bus
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == b.host.ID() {
			continue // Skip own messages.
		}
		envelope, err := DecodeEnvelope(msg.Data)
		if err != nil {
			logger.Debug().Err(err).Msg("Dropping undecodable bus message")
			continue
		}
		b.observeEnvelope(envelope)
		select {
		case b.inbound <- Inbound{RewardCycle: envelope.RewardCycle, Slot: envelope.Slot, Message: envelope.Message}:
		case <-ctx.Done():
			return
		}
	}
}

// observeEnvelope updates the slot-addressed transaction cache. The
// cache is latest-write-wins per slot, mirroring the shared-DB slot
// semantics the expected-transaction checks rely on.
func (b *Bus) observeEnvelope(e *Envelope) {
	if e.Message.Kind != KindTransactions {
		return
	}
	raw, err := e.Encode()
	if err != nil {
		return
	}
	b.txMu.Lock()
	defer b.txMu.Unlock()
	slots, ok := b.txCache[e.RewardCycle]
	if !ok {
		slots = make(map[uint32][]byte)
		b.txCache[e.RewardCycle] = slots
	}
	slots[e.Slot] = raw
}

// SendMessage publishes a message to a reward cycle's topic.
func (b *Bus) SendMessage(rewardCycle uint64, msg *SignerMessage) error {
	b.mu.RLock()
	topics, ok := b.cycles[rewardCycle]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("not joined to reward cycle %d", rewardCycle)
	}

	envelope := &Envelope{RewardCycle: rewardCycle, Slot: b.cfg.Slot, Message: msg}
	data, err := envelope.Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	// Record own transaction sets in the cache: a signer's own slot is
	// part of the shared view.
	b.observeEnvelope(envelope)
	return topics.packets.Publish(b.ctx, data)
}

// SendMessageWithRetry publishes with bounded exponential backoff.
// Exhausted retries surface the last error; the caller logs and skips.
func (b *Bus) SendMessageWithRetry(rewardCycle uint64, msg *SignerMessage) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(func() error {
		return b.SendMessage(rewardCycle, msg)
	}, policy)
}

// SlotTransactions returns the latest transaction set each given slot
// published for the reward cycle.
func (b *Bus) SlotTransactions(rewardCycle uint64, slots []uint32) []*SignerMessage {
	b.txMu.RLock()
	defer b.txMu.RUnlock()
	cache, ok := b.txCache[rewardCycle]
	if !ok {
		return nil
	}
	var out []*SignerMessage
	for _, slot := range slots {
		raw, ok := cache[slot]
		if !ok {
			continue
		}
		envelope, err := DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		out = append(out, envelope.Message)
	}
	return out
}

// connectSeeds tries each configured seed once.
func (b *Bus) connectSeeds() {
	logger := klog.Bus
	for _, addr := range b.cfg.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		ctx, cancel := context.WithTimeout(b.ctx, peerConnectTimeout)
		err = b.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			logger.Warn().Str("peer", info.ID.String()).Err(err).Msg("Seed connect failed")
		} else {
			logger.Info().Str("peer", info.ID.String()).Msg("Seed connected")
		}
	}
}

// --- discovery ---

func (b *Bus) initDHT() error {
	mode := dht.ModeClient
	if b.cfg.DHTServer {
		mode = dht.ModeServer
	}
	kadDHT, err := dht.New(b.ctx, b.host, dht.Mode(mode))
	if err != nil {
		return fmt.Errorf("create kad-dht: %w", err)
	}
	b.dht = kadDHT
	return kadDHT.Bootstrap(b.ctx)
}

func (b *Bus) closeDHT() {
	if b.dht != nil {
		b.dht.Close()
		b.dht = nil
	}
}

func (b *Bus) startMDNS() {
	svc := mdns.NewMdnsService(b.host, b.rendezvous(), &discoveryNotifee{bus: b})
	// mDNS failure is non-fatal.
	_ = svc.Start()
}

func (b *Bus) runDHTDiscovery() {
	if b.dht == nil {
		return
	}

	routingDiscovery := drouting.NewRoutingDiscovery(b.dht)
	dutil.Advertise(b.ctx, routingDiscovery, b.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.findDHTPeers(routingDiscovery)
		}
	}
}

func (b *Bus) findDHTPeers(routingDiscovery *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(b.ctx, 20*time.Second)
	defer cancel()

	peerCh, err := routingDiscovery.FindPeers(ctx, b.rendezvous())
	if err != nil {
		return
	}

	for p := range peerCh {
		if p.ID == b.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		connectCtx, connectCancel := context.WithTimeout(b.ctx, peerConnectTimeout)
		b.host.Connect(connectCtx, p) // Best-effort.
		connectCancel()
	}
}

// discoveryNotifee connects to peers found via mDNS.
type discoveryNotifee struct {
	bus *Bus
}

// HandlePeerFound connects to a newly discovered peer.
func (n *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(n.bus.ctx, peerConnectTimeout)
	defer cancel()
	n.bus.host.Connect(ctx, info) // Best-effort.
}

// loadOrCreateIdentity loads a persisted libp2p identity key from
// dataDir, or generates and saves one, so the peer ID is stable.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "bus.key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode bus key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(keyBytes)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save bus key: %w", err)
	}

	return priv, nil
}

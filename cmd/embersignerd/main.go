// Embernet signer daemon.
//
// Usage:
//
//	embersignerd --keystore=PATH [--network=testnet] Run signer
//	embersignerd --init-keys --keystore=PATH         Generate a new signer seed
//	embersignerd --help                              Show help
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/embernet-chain/config"
	"github.com/Klingon-tech/embernet-chain/internal/bus"
	"github.com/Klingon-tech/embernet-chain/internal/keys"
	klog "github.com/Klingon-tech/embernet-chain/internal/log"
	"github.com/Klingon-tech/embernet-chain/internal/nodeclient"
	"github.com/Klingon-tech/embernet-chain/internal/observer"
	"github.com/Klingon-tech/embernet-chain/internal/signer"
	"github.com/Klingon-tech/embernet-chain/internal/signerdb"
	"github.com/Klingon-tech/embernet-chain/internal/threshold"
	"github.com/Klingon-tech/embernet-chain/internal/threshold/solo"
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
)

func main() {
	var (
		network    = flag.String("network", "mainnet", "network: mainnet or testnet")
		configPath = flag.String("config", "", "path to signer.conf")
		dataDir    = flag.String("datadir", "", "data directory override")
		keystore   = flag.String("keystore", "", "encrypted signer seed file")
		nodeURL    = flag.String("node", "", "local node RPC endpoint override")
		initKeys   = flag.Bool("init-keys", false, "generate a new mnemonic and keystore, then exit")
	)
	flag.Parse()

	cfg := config.Default(config.NetworkType(*network))
	if *configPath != "" {
		values, err := config.LoadFile(*configPath)
		if err != nil {
			fatalf("Error loading config: %v", err)
		}
		if err := config.ApplyFileConfig(cfg, values); err != nil {
			fatalf("Error applying config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *keystore != "" {
		cfg.Signer.KeystorePath = *keystore
	}
	if *nodeURL != "" {
		cfg.Node.Endpoint = *nodeURL
	}
	if cfg.Signer.KeystorePath == "" {
		cfg.Signer.KeystorePath = filepath.Join(cfg.DataDir, "signer.seed")
	}

	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatalf("Error initializing logger: %v", err)
	}
	logger := klog.WithComponent("daemon")

	if *initKeys {
		if err := initKeystore(cfg.Signer.KeystorePath); err != nil {
			fatalf("Error initializing keystore: %v", err)
		}
		return
	}

	if err := config.Validate(cfg); err != nil {
		fatalf("Invalid configuration: %v", err)
	}

	key, err := unlockSigner(cfg)
	if err != nil {
		fatalf("Error unlocking signer key: %v", err)
	}
	defer key.Zero()

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("node", cfg.Node.Endpoint).
		Msg("Starting Embernet signer")

	db, err := signerdb.Open(cfg.SignerDBPath())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SignerDBPath()).Msg("Failed to open signer database")
	}
	defer db.Close()

	node := nodeclient.NewWithTimeout(cfg.Node.Endpoint, cfg.Node.Timeout)

	busNode := bus.New(bus.Config{
		ListenAddr: cfg.Bus.ListenAddr,
		Port:       cfg.Bus.Port,
		Seeds:      cfg.Bus.Seeds,
		NetworkID:  cfg.Bus.NetworkID,
		DataDir:    cfg.DataDir,
		NoDiscover: cfg.Bus.NoDiscover,
		DHTServer:  cfg.Bus.DHTServer,
		Slot:       cfg.Signer.Slot,
	})
	if err := busNode.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start signer bus")
	}
	defer busNode.Stop()

	results := make(chan []threshold.OperationResult, 16)
	factory := soloFactory(cfg, key, db, node, busNode, results)
	runLoop := signer.NewRunLoop(factory, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := observer.New(cfg.Node.EventsAddr, runLoop.Events())
	if err := events.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start event observer")
	}
	defer events.Stop(ctx)

	go forwardBusEvents(ctx, busNode, runLoop)
	go drainResults(ctx, results)

	go func() {
		if err := runLoop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Signer run loop exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("Shutting down")
}

// soloFactory builds per-cycle signers around the single-party
// threshold engine. Multi-party groups swap in a real threshold
// library behind the same interfaces.
func soloFactory(cfg *config.Config, key *crypto.PrivateKey, db *signerdb.SignerDB,
	node *nodeclient.Client, busNode *bus.Bus,
	results chan []threshold.OperationResult) signer.Factory {

	groupCfg := threshold.NewConfig(1, 1)
	groupCfg.DkgPublicTimeout = cfg.Signer.DkgPublicTimeout
	groupCfg.DkgPrivateTimeout = cfg.Signer.DkgPrivateTimeout
	groupCfg.DkgEndTimeout = cfg.Signer.DkgEndTimeout
	groupCfg.NonceTimeout = cfg.Signer.NonceTimeout
	groupCfg.SignTimeout = cfg.Signer.SignTimeout

	return func(rewardCycle uint64) (*signer.Signer, error) {
		if err := busNode.JoinRewardCycle(rewardCycle); err != nil {
			return nil, err
		}
		engine := solo.New(key, groupCfg)
		return signer.New(signer.Config{
			RewardCycle: rewardCycle,
			SignerID:    0,
			ChainID:     cfg.Network.ChainID(),
			Mainnet:     cfg.Network == config.Mainnet,
			TxFee:       cfg.Signer.TxFee,
			PrivateKey:  key,
			SignerPublicKeys: map[uint32][]byte{
				0: key.PublicKey().Serialize(),
			},
		}, engine, solo.NewRound(engine), solo.Verifier{}, db, node, busNode, results)
	}
}

// forwardBusEvents turns inbound bus messages into signer events.
func forwardBusEvents(ctx context.Context, busNode *bus.Bus, runLoop *signer.RunLoop) {
	for {
		select {
		case <-ctx.Done():
			return
		case inbound := <-busNode.Inbound():
			event := &signer.SignerMessagesEvent{
				RewardCycle: inbound.RewardCycle,
				Messages:    []*bus.SignerMessage{inbound.Message},
			}
			select {
			case runLoop.Events() <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// drainResults logs terminal operation results.
func drainResults(ctx context.Context, results <-chan []threshold.OperationResult) {
	logger := klog.Signer
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-results:
			for _, result := range batch {
				if result.IsError() {
					logger.Warn().Err(result.Err).Msg("Operation failed")
				} else {
					logger.Info().Int("kind", int(result.Kind)).Msg("Operation completed")
				}
			}
		}
	}
}

// initKeystore generates a fresh mnemonic, prints it once, and writes
// the encrypted seed.
func initKeystore(path string) error {
	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		return err
	}
	seed, err := keys.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}

	fmt.Println("Write down your recovery mnemonic. It will not be shown again:")
	fmt.Println()
	fmt.Println("  " + mnemonic)
	fmt.Println()

	password, err := promptPassword("New keystore password: ")
	if err != nil {
		return err
	}
	if err := keys.SaveSeed(path, seed, password, keys.DefaultParams()); err != nil {
		return err
	}
	fmt.Printf("Keystore written to %s\n", path)
	return nil
}

// unlockSigner prompts for the keystore password and derives the
// signer message key.
func unlockSigner(cfg *config.Config) (*crypto.PrivateKey, error) {
	password, err := promptPassword("Keystore password: ")
	if err != nil {
		return nil, err
	}
	seed, err := keys.LoadSeed(cfg.Signer.KeystorePath, password)
	if err != nil {
		return nil, err
	}
	return keys.DeriveSignerKey(seed, cfg.Signer.Account)
}

// promptPassword reads a password without echo.
func promptPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return password, nil
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

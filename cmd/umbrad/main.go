package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/buckets"
	"umbra-relayer/chain"
	"umbra-relayer/config"
	"umbra-relayer/crypto"
	"umbra-relayer/pool"
	"umbra-relayer/relayer"
	"umbra-relayer/server"
)

func main() {
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.Info("Starting Umbra relayer")

	keypair, err := chain.LoadKeypair(cfg.KeypairPath)
	if err != nil {
		log.Fatalf("Failed to load relayer keypair: %v", err)
	}
	log.Infof("Relayer account: %s", keypair.Pubkey())

	if cfg.TreasuryKeypairPath != "" {
		treasury, err := chain.LoadKeypair(cfg.TreasuryKeypairPath)
		if err != nil {
			log.Fatalf("Failed to load treasury keypair: %v", err)
		}
		log.Infof("Treasury wallet loaded: %s (separate from deposit wallet: %s)",
			treasury.Pubkey(), keypair.Pubkey())
	} else {
		log.Warn("TREASURY_KEYPAIR_PATH not set! Using main keypair for credit payments. " +
			"This is a PRIVACY RISK - set TREASURY_KEYPAIR_PATH to a separate wallet.")
	}

	programID, err := chain.ParsePubkey(cfg.ProgramID)
	if err != nil {
		log.Fatalf("Invalid PROGRAM_ID: %v", err)
	}
	zkVerifierID, err := chain.ParsePubkey(cfg.ZKVerifierID)
	if err != nil {
		log.Fatalf("Invalid ZK_VERIFIER_ID: %v", err)
	}

	signer, err := crypto.NewSignerOrLoad(cfg.RSAKeyPath, cfg.RSAKeyBits)
	if err != nil {
		log.Fatalf("Failed to initialize blind signer: %v", err)
	}

	envelope, err := crypto.NewEnvelopeKey()
	if err != nil {
		log.Fatalf("Failed to generate envelope keypair: %v", err)
	}
	log.Info("Generated X25519 keypair for the request envelope")

	pools := pool.NewService(cfg.MerkleStatePath)
	for bucket := uint8(0); int(bucket) < buckets.Count; bucket++ {
		if err := pools.Init(bucket); err != nil {
			log.Fatalf("Failed to initialize bucket %d: %v", bucket, err)
		}
	}

	tokens := pool.NewTokenStore(cfg.TokenStorePath)
	roots := pool.NewHistoricalRoots()

	pendingStore, err := pool.OpenPendingStore(cfg.PendingStorePath)
	if err != nil {
		log.Fatalf("Failed to open pending withdrawal store: %v", err)
	}
	defer pendingStore.Close()

	rpc := chain.NewClient(cfg.RPCURL, cfg.RPCTimeout)
	log.Infof("RPC endpoint: %s", cfg.RPCURL)

	issuer := relayer.NewIssuer(signer, rpc, keypair.Pubkey(), cfg.FeeBps)
	deposits := relayer.NewDepositService(programID, keypair, rpc, signer, pools, tokens, roots, cfg.SkipLargeHistoryScan)
	withdrawals := relayer.NewWithdrawalService(programID, zkVerifierID, keypair, cfg.FeeBps, rpc, pools, roots, pendingStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go withdrawals.RunPoller(ctx, cfg.PollInterval)

	srv := server.New(server.Config{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Signer:         signer,
		Envelope:       envelope,
		Issuer:         issuer,
		Deposits:       deposits,
		Withdrawals:    withdrawals,
		Pools:          pools,
		RelayerKey:     keypair.Pubkey(),
		FeeBps:         cfg.FeeBps,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down...")

	cancel()
	srv.Stop()
	log.Info("Shutdown complete")
}

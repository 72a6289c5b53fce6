// Package node wires the switching node together: registry, signaling
// server, media router, billing engine, ledger, and recorder, with one
// lifecycle for all of them.
package node

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchpoint/msc/internal/audio"
	"github.com/switchpoint/msc/internal/billing"
	"github.com/switchpoint/msc/internal/cdr"
	"github.com/switchpoint/msc/internal/encryption"
	"github.com/switchpoint/msc/internal/registry"
	"github.com/switchpoint/msc/internal/signaling"
	"github.com/switchpoint/msc/internal/voice"
)

// Node is a fully wired switching node.
type Node struct {
	cfg    *Config
	reg    *registry.Registry
	engine *billing.Engine
	server *signaling.Server
	router *voice.Router
}

// New builds a node: seeds balances, generates the node keypair, binds
// both sockets, and creates the voice and CDR directories. Bind failures
// here are the only fatal errors in the system.
func New(cfg *Config, sink audio.Sink) (*Node, error) {
	balances, err := cfg.ParseBalances()
	if err != nil {
		return nil, fmt.Errorf("invalid seed balances: %w", err)
	}

	reg := registry.New()
	for msisdn, amount := range balances {
		reg.SeedBalance(msisdn, amount)
	}
	log.Printf("[Node] seeded %d subscriber balances", len(balances))

	priv, err := encryption.GenerateRSAKeyPair()
	if err != nil {
		return nil, err
	}
	log.Printf("[Node] generated RSA keypair for secure key exchange")

	ledger, err := cdr.NewWriter(cfg.CDRDir, cfg.CDRFile)
	if err != nil {
		return nil, err
	}
	recorder, err := voice.NewRecorder(cfg.VoiceDir)
	if err != nil {
		return nil, err
	}

	engine := billing.NewEngine(reg, ledger, recorder, cfg.ChargeRate, cfg.ChargeInterval)

	server, err := signaling.NewServer(
		fmt.Sprintf(":%d", cfg.SignalingPort),
		signaling.Config{VoicePort: cfg.VoicePort, EncryptionRequired: cfg.EncryptionRequired},
		reg, engine, priv,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind signaling port: %w", err)
	}

	voiceConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.VoicePort})
	if err != nil {
		return nil, fmt.Errorf("failed to bind voice port: %w", err)
	}
	log.Printf("[Node] voice socket bound on %s", voiceConn.LocalAddr())

	if sink == nil {
		sink = audio.Discard{}
	}

	return &Node{
		cfg:    cfg,
		reg:    reg,
		engine: engine,
		server: server,
		router: voice.NewRouter(voiceConn, reg, sink),
	}, nil
}

// Registry exposes the shared store, mainly for tests and tooling.
func (n *Node) Registry() *registry.Registry { return n.reg }

// Run starts the three execution contexts and blocks until the context
// is cancelled. Shutdown stops intake, settles still-active sessions
// with the shutdown reason, then releases the sockets.
func (n *Node) Run(ctx context.Context) error {
	if n.cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("[Node] metrics on %s/metrics", n.cfg.MetricsAddr)
			if err := http.ListenAndServe(n.cfg.MetricsAddr, mux); err != nil {
				log.Printf("[Node] metrics server stopped: %v", err)
			}
		}()
	}

	log.Printf("[Node] MSC ready, waiting for call signaling")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); n.server.Run(ctx) }()
	go func() { defer wg.Done(); n.router.Run(ctx) }()
	go func() { defer wg.Done(); n.engine.Run(ctx) }()
	wg.Wait()

	log.Printf("[Node] shutdown complete")
	return nil
}

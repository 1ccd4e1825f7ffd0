// Command node starts a ledger node in either the authority or participant
// role, as configured.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jonaspfi/ledgernode/config"
	"github.com/jonaspfi/ledgernode/crypto"
	"github.com/jonaspfi/ledgernode/crypto/certgen"
	"github.com/jonaspfi/ledgernode/httpapi"
	"github.com/jonaspfi/ledgernode/keystore"
	"github.com/jonaspfi/ledgernode/ledger"
	"github.com/jonaspfi/ledgernode/participant"
	"github.com/jonaspfi/ledgernode/protocol"
	"github.com/jonaspfi/ledgernode/transport"
)

func main() {
	app := &cli.App{
		Name:  "node",
		Usage: "run a permissioned-ledger node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to config file"},
			&cli.StringFlag{Name: "key", Value: "node.key", Usage: "path to keystore file"},
			&cli.BoolFlag{Name: "genkey", Usage: "generate a new node keypair and exit"},
			&cli.StringFlag{Name: "gencerts", Usage: "generate CA + node TLS certs into the given directory and exit"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfgPath := c.String("config")
	keyPath := c.String("key")

	// Read the keystore password from the environment, never a flag —
	// flags leak via ps.
	password := os.Getenv("NODE_KEY_PASSWORD")
	if password == "" {
		log.Println("WARNING: NODE_KEY_PASSWORD not set, keystore will use an empty password")
	}

	if c.Bool("genkey") {
		priv, _, err := crypto.GenerateKeypair()
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		if err := keystore.Save(keyPath, password, priv); err != nil {
			return fmt.Errorf("save keystore: %w", err)
		}
		fmt.Printf("Generated keypair, saved to %s\n", keyPath)
		return nil
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if dir := c.String("gencerts"); dir != "" {
		if err := certgen.GenerateAll(dir, cfg.Name, nil); err != nil {
			return fmt.Errorf("gencerts: %w", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", dir, cfg.Name)
		return nil
	}

	priv, err := keystore.Load(keyPath, password)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled between nodes")
	}

	chain := ledger.NewChain()
	chain.Genesis()

	httpTransport := transport.NewHTTPTransport(10*time.Second, tlsCfg)
	peers := transport.NewPeerAdapter(httpTransport)
	resolver := transport.NewPublicKeyResolver(peers)
	clock := transport.SystemClock()
	chain.SetVerification(resolver, cfg.Authorities)

	pubKeyPEM := priv.Public().PEM()
	server := httpapi.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), cfg.RPCAuthToken, pubKeyPEM, chain)
	if tlsCfg != nil {
		server.SetTLSConfig(tlsCfg)
	}

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())

	switch cfg.Role {
	case "authority":
		a := protocol.NewAuthority(cfg.Name, cfg.Authorities, priv, chain, peers, resolver, clock)
		a.SetWelcomeGrant(cfg.WelcomeGrantAmount)
		server.RegisterAuthority(a)
		go a.RunWatchdog(watchdogCtx)
	case "participant":
		p := participant.NewParticipant(cfg.Name, priv, chain, cfg.Authorities, peers, resolver, clock)
		server.RegisterParticipant(p)
	default:
		return fmt.Errorf("config: unknown role %q", cfg.Role)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("http start: %w", err)
	}
	defer server.Stop()
	log.Printf("Node %q (%s) listening on %s", cfg.Name, cfg.Role, server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	stopWatchdog()

	log.Println("Shutdown complete.")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			cfg := config.DefaultConfig()
			if name := os.Getenv("CONTAINERNAME"); name != "" {
				cfg.Name = name
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

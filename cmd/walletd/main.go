package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"akasha-id/go-wallet/internal/account"
	"akasha-id/go-wallet/internal/bootstrap/hubconfig"
	"akasha-id/go-wallet/internal/hub"
	"akasha-id/go-wallet/internal/leader"
	"akasha-id/go-wallet/internal/platform/privacylog"
	"akasha-id/go-wallet/internal/platform/ratelimiter"
	"akasha-id/go-wallet/internal/wallet"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for wallet local data (optional)")
	transport := flag.String("transport", "", "Relay transport override: go-waku | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("walletd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *transport != "" {
		_ = os.Setenv("AKASHA_HUB_TRANSPORT", *transport)
	}
	if *dataDir != "" {
		_ = os.Setenv("AKASHA_WALLET_DATA_DIR", *dataDir)
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))

	hubCfg, walletCfg := hubconfig.LoadFromPath(*configPath)
	if walletCfg.DataDir == "" {
		walletCfg.DataDir = "data"
	}

	node := hub.NewNode(hubCfg)
	if err := node.Start(ctx); err != nil {
		log.Fatalf("walletd failed to join the relay: %v", err)
	}
	defer func() { _ = node.Stop(context.Background()) }()

	accounts, err := account.NewManager(walletCfg.DataDir, logger)
	if err != nil {
		log.Fatalf("walletd failed to initialize: %v", err)
	}

	log.Println("walletd starting")

	// Headless mode: with credentials in the environment the daemon logs in
	// and answers refresh requests until it is signalled to stop.
	accountID := os.Getenv("AKASHA_ACCOUNT_ID")
	passphrase := os.Getenv("AKASHA_PASSPHRASE")
	if accountID != "" && passphrase != "" {
		session, err := accounts.Login(accountID, passphrase)
		if err != nil {
			log.Fatalf("walletd login failed: %v", err)
		}
		w, err := wallet.New(node, accounts,
			wallet.WithLogger(logger),
			wallet.WithRefreshLimiter(ratelimiter.New(1, 5, 0)),
			wallet.WithElector(leader.NewLocalElector(session.AccountID)),
		)
		if err != nil {
			log.Fatalf("walletd failed to initialize: %v", err)
		}
		if err := w.Listen(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("walletd listener failed: %v", err)
		}
	} else {
		<-ctx.Done()
	}
	log.Println("walletd stopped")
}

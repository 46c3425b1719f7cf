package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/solchat-dev/solchat/internal/daemon"
	"github.com/solchat-dev/solchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	walletFlag := flag.String("wallet", "", "wallet address (overrides config default)")
	listenFlag := flag.String("listen", "", "api listen address (overrides config)")
	flag.Parse()

	wallet := session.Resolve(*walletFlag)
	if wallet == "" {
		fmt.Fprintln(os.Stderr, "error: no wallet configured; pass --wallet or set default_wallet in config")
		os.Exit(1)
	}
	if err := session.ValidateWallet(wallet); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Wallet: wallet, ListenAddr: *listenFlag}),
	)

	app.Run()
}

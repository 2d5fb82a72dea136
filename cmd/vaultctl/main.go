package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/photoimport/internal/ingest/config"
	"github.com/dmitrijs2005/photoimport/internal/ingest/credentials"
	"github.com/dmitrijs2005/photoimport/internal/ingest/vault"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"github.com/dmitrijs2005/photoimport/internal/vaultctl"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	v, err := vault.Open(ctx, cfg.VaultPath, cfg.VaultPassphrase)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer v.Close()

	tokens := credentials.NewManager(v, nil, cfg.ClientID, cfg.TokenLookahead, logging.Nop())
	app := vaultctl.NewApp(v, tokens, os.Stdin, os.Stdout)

	if err := app.Run(ctx, vaultctl.CommandArgs(os.Args[1:])); err != nil {
		if errors.Is(err, vaultctl.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Printf("%v", err)
		os.Exit(1)
	}

}

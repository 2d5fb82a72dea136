package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/photoimport/internal/buildinfo"
	"github.com/dmitrijs2005/photoimport/internal/ingest"
	"github.com/dmitrijs2005/photoimport/internal/ingest/config"

	_ "time/tzdata"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := ingest.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	app.Run(ctx)

}

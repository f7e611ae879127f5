// Command cli is the registry admin client:
//
//	cli [command args...] [-a host:port] [-k token] [-r seconds] [-c config.json]
//
// Without a command it starts an interactive prompt.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/trialregistry/internal/client/cli"
	"github.com/dmitrijs2005/trialregistry/internal/client/config"
	"github.com/dmitrijs2005/trialregistry/internal/flagx"
)

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer app.Close()

	if err := app.Run(ctx, flagx.Positional(os.Args[1:])); err != nil {
		log.Printf("%v", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}

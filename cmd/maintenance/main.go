// Command maintenance runs one registry maintenance task and exits:
//
//	maintenance <task> [trial_id|*] [upload_type|*] [-email uploader@example.org] [config flags]
//
// Positional arguments must come before any flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/trialregistry/internal/flagx"
	"github.com/dmitrijs2005/trialregistry/internal/server"
	"github.com/dmitrijs2005/trialregistry/internal/server/config"
	"github.com/dmitrijs2005/trialregistry/internal/server/jobs"
)

func uploaderEmail(args []string) string {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	email := fs.String("email", "", "uploader email recorded on synced manifests")
	_ = fs.Parse(flagx.FilterArgs(args, []string{"-email"}))
	return *email
}

func run() int {
	task, err := jobs.ParseTask(flagx.Positional(os.Args[1:]), uploaderEmail(os.Args[1:]))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	defer app.Close()

	if err := app.RunMaintenance(ctx, task); err != nil {
		log.Printf("%s: %v", task.Name, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}

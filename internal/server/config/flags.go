package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-m string   metrics bind address
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-l string   log level (debug, info, warn, error)
//	-p string   GCP project id
//	-b string   data bucket
//	-o string   object store backend (gcs or s3)
//	-i int      inactive-user days
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, so subcommand flags of the maintenance tool pass through.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-m", "-d", "-s", "-t", "-l", "-p", "-b", "-o", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port to serve metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.GCPProject, "p", config.GCPProject, "GCP project id")
	fs.StringVar(&config.DataBucket, "b", config.DataBucket, "data bucket")
	fs.StringVar(&config.ObjectStore, "o", config.ObjectStore, "object store backend (gcs or s3)")
	fs.IntVar(&config.InactiveUserDays, "i", config.InactiveUserDays, "days of inactivity before a user is disabled")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}

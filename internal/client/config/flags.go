package config

import (
	"flag"
	"os"
	"time"

	"github.com/trialware/diarysync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the sync API (default from Config)
//	-d string   data directory for the local database
//	-t string   bearer auth token
//	-u string   actor id stamped onto produced events
//	-r string   actor role (patient, investigator)
//	-i int      sync interval in seconds (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-t", "-u", "-r", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "base URL of the sync API")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory for the local database")
	fs.StringVar(&cfg.AuthToken, "t", cfg.AuthToken, "bearer auth token")
	fs.StringVar(&cfg.ActorID, "u", cfg.ActorID, "actor id stamped onto produced events")
	fs.StringVar(&cfg.ActorRole, "r", cfg.ActorRole, "actor role")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}

// Package cli is the interactive device frontend: it wires the local
// database, the device identity, the sync loop, and a small command shell
// for working with diary records.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/trialware/diarysync/internal/client/client"
	"github.com/trialware/diarysync/internal/client/config"
	"github.com/trialware/diarysync/internal/client/device"
	"github.com/trialware/diarysync/internal/client/services"
	"github.com/trialware/diarysync/internal/client/transport"
	"github.com/trialware/diarysync/internal/conflict"
	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type App struct {
	config  *config.Config
	records *services.RecordService
	syncer  *services.Syncer
	sweeper *services.Sweeper
	repos   *client.Repositories
	Mode    Mode
	reader  *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()

	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, err
	}

	repos, err := client.InitDatabase(ctx, filepath.Join(c.DataDir, "diary.db"))
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}

	identity, err := device.Load(c.DataDir)
	if err != nil {
		return nil, err
	}

	sl := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(sl)

	registry := event.DefaultRegistry()
	if len(c.EnabledEventTypes) > 0 {
		registry.Restrict(c.EnabledEventTypes)
	}
	records := services.NewRecordService(repos, registry, identity, c.ActorID, c.ActorRole, logger)

	tc := transport.NewClient(c.ServerEndpointAddr, c.AuthToken)
	notifier := printNotifier{}
	syncer := services.NewSyncer(repos, registry, tc, stdinChoiceProvider(), notifier, services.SyncerOptions{
		DrainInterval: c.SyncInterval,
		RetryBase:     c.RetryBase,
		RetryCap:      c.RetryCap,
	}, logger)
	sweeper := services.NewSweeper(repos, notifier, logger)

	return &App{
		config:  c,
		records: records,
		syncer:  syncer,
		sweeper: sweeper,
		repos:   repos,
		Mode:    ModeOffline,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) setMode(mode Mode) {
	if a.Mode != mode {
		a.Mode = mode
		log.Printf("Switched to %s mode\n", mode)
		if mode == ModeOnline {
			a.syncer.Trigger(services.TriggerConnectivity)
		}
	}
}

func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.syncer.CatchUp(ctx); err != nil {
			log.Printf("catch-up: %v", err)
		}
		// The app just came back to the foreground; drain whatever queued
		// up while it was away.
		a.syncer.Trigger(services.TriggerForeground)
		_ = a.syncer.Run(ctx)
	}()
	go a.StartOnlineStatusWatcher(ctx, a.config.SyncInterval)

	a.Main(ctx)
}

// StartOnlineStatusWatcher probes reachability and flips the mode; going
// online triggers a drain.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := a.probe(probeCtx)
			cancel()

			if err != nil {
				a.setMode(ModeOffline)
			} else {
				a.setMode(ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *App) probe(ctx context.Context) error {
	tc := transport.NewClient(a.config.ServerEndpointAddr, a.config.AuthToken)
	_, err := tc.SchemaInfo(ctx)
	return err
}

// printNotifier surfaces sync notifications on the terminal.
type printNotifier struct{}

func (printNotifier) Notify(_ context.Context, aggregateID, message string) {
	fmt.Printf("\n[%s] %s\n", aggregateID, message)
}

// stdinChoiceProvider asks the user to pick a side of a conflict on the
// terminal.
func stdinChoiceProvider() conflict.ChoiceProvider {
	reader := bufio.NewReader(os.Stdin)
	return conflict.ChoiceFunc(func(ctx context.Context, aggregateID string, local, remote *event.Event) (conflict.Choice, error) {
		fmt.Printf("\nRecord %s changed both here and on the server.\n", aggregateID)
		fmt.Printf("  local:  %s at %s\n", local.Type, local.ClientTimestamp.Format(time.RFC3339))
		fmt.Printf("  remote: %s by %s\n", remote.Type, remote.ActorID)
		for {
			fmt.Print("Keep [l]ocal or [r]emote? ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return conflict.ChooseRemote, err
			}
			switch line[:1] {
			case "l", "L":
				return conflict.ChooseLocal, nil
			case "r", "R":
				return conflict.ChooseRemote, nil
			}
		}
	})
}

// Package cli is the interactive terminal client: a small REPL over the
// local task store, with background sync against the server.
package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/signalnoise/cloudsync/internal/client/api"
	"github.com/signalnoise/cloudsync/internal/client/config"
	"github.com/signalnoise/cloudsync/internal/client/localstore"
	"github.com/signalnoise/cloudsync/internal/client/orchestrator"
	"github.com/signalnoise/cloudsync/internal/logging"
)

type App struct {
	config *config.Config
	logger logging.Logger
	client *api.Client
	store  *localstore.Store
	orch   *orchestrator.Orchestrator

	email  string
	reader *bufio.Reader
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger()

	store, err := localstore.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(c.ServerEndpointAddr, c.RequestTimeout)
	orch := orchestrator.New(client, store, logger, c.PollInterval, c.MinSyncGap)

	app := &App{
		config: c,
		logger: logger,
		client: client,
		store:  store,
		orch:   orch,
		reader: bufio.NewReader(os.Stdin),
	}

	// Resume a previous session if one is stored.
	state, err := store.State(ctx)
	if err != nil {
		return nil, err
	}
	if state.LoggedIn() {
		client.SetToken(state.SessionToken)
		app.email = state.Email
	}

	return app, nil
}

func (a *App) isLoggedIn() bool {
	return a.client.Token() != ""
}

func (a *App) Run(ctx context.Context) {
	if a.isLoggedIn() {
		if err := a.orch.Start(ctx); err != nil {
			a.logger.Warn(ctx, "sync loop start failed", "error", err)
		}
	}
	defer a.orch.Stop()

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.statusFn, scanner)

	_ = a.store.Close()
}

func (a *App) statusFn() string {
	if a.isLoggedIn() {
		return a.email
	}
	return "not logged in"
}

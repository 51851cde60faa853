package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/signalnoise/cloudsync/internal/client/localstore"
)

// Login requests a magic link for the entered email. The actual sign-in
// happens in Verify, once the user has the token from their inbox.
func (a *App) Login(ctx context.Context) error {
	email, err := GetSimpleText(a.reader, "Email address", os.Stdout)
	if err != nil {
		return err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		printlnFn("Email is required.")
		return nil
	}

	if err := a.client.RequestMagicLink(ctx, email); err != nil {
		printlnFn("Error:", err.Error())
		return err
	}

	printlnFn("Check your inbox for a login link, then run 'verify' with the token from it.")
	return nil
}

// Verify redeems a magic token and stores the resulting session locally.
func (a *App) Verify(ctx context.Context) error {
	token, err := GetSecret("Magic token", os.Stdout)
	if err != nil {
		return err
	}
	if token == "" {
		printlnFn("Token is required.")
		return nil
	}

	state, err := a.store.State(ctx)
	if err != nil {
		return err
	}
	if state.DeviceID == "" {
		state.DeviceID = uuid.NewString()
	}

	result, err := a.client.Verify(ctx, token, state.DeviceID)
	if err != nil {
		printlnFn("Error:", err.Error())
		return err
	}

	state.SessionToken = result.SessionToken
	state.Email = result.Email
	state.FirstName = result.FirstName
	state.Tier = result.Tier
	if err := a.store.SaveState(ctx, state); err != nil {
		return err
	}

	a.email = result.Email
	if err := a.orch.Start(ctx); err != nil {
		a.logger.Warn(ctx, "sync loop start failed", "error", err)
	}

	if result.FirstName != "" {
		printlnFn(fmt.Sprintf("Welcome back, %s!", result.FirstName))
	} else {
		printlnFn("Logged in as " + result.Email)
	}
	return nil
}

// Sessions lists the account's active devices.
func (a *App) Sessions(ctx context.Context) error {
	list, err := a.client.Sessions(ctx)
	if err != nil {
		printlnFn("Error:", err.Error())
		return err
	}

	for _, s := range list {
		marker := " "
		if s.Current {
			marker = "*"
		}
		printlnFn(fmt.Sprintf("%s %-10s %s  last active %s",
			marker, s.DeviceType, s.Token, s.LastActiveAt.Format("2006-01-02 15:04")))
	}
	return nil
}

// Logout revokes every session of the account and clears the local
// credential. The local task data is kept.
func (a *App) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		printlnFn("Error:", err.Error())
		return err
	}

	a.orch.Stop()

	state, err := a.store.State(ctx)
	if err != nil {
		return err
	}
	*state = localstore.SyncState{
		DeviceID:        state.DeviceID,
		SyncedFromLocal: state.SyncedFromLocal,
	}
	if err := a.store.SaveState(ctx, state); err != nil {
		return err
	}

	a.email = ""
	printlnFn("Logged out on all devices.")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts the user for a username and password and attempts to
// create a new account via the AuthService.
//
// On success it prints "Success!" and returns nil. The password byte slice
// is securely wiped before returning. Any I/O or service error is returned
// unchanged.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.authService.Register(ctx, userName, password); err != nil {
		return err
	}

	fmt.Println("Success!")
	return nil
}

// Login prompts the user for credentials and tries to authenticate.
//
// The method first attempts an online login. If the server is unavailable
// (errors.Is(err, client.ErrUnavailable)), it falls back to offline login
// against the local mirror. On success it sets a.userName and updates
// connectivity Mode:
//   - ModeOnline if online login succeeds,
//   - ModeOffline if offline login succeeds,
//   - ModeDisabled if both fail.
//
// The password is securely wiped before returning. A nil error does not
// necessarily imply ModeOnline; inspect App.Mode for the final state.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	var mode Mode

	err = a.authService.OnlineLogin(ctx, userName, password)
	if err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			log.Printf("Server unavailable, trying offline login...")
			if err := a.authService.OfflineLogin(ctx, userName); err != nil {
				log.Printf("Offline login unsuccessfull: %s", err.Error())
				mode = ModeDisabled
			} else {
				log.Printf("Offline login successfull")
				mode = ModeOffline
			}
		} else {
			log.Printf("Login unsuccessfull: %s", err.Error())
		}
	} else {
		log.Printf("Login successfull")
		mode = ModeOnline
	}

	if mode == ModeOnline || mode == ModeOffline {
		a.userName = userName
	} else {
		a.userName = ""
	}
	if mode != "" {
		a.setMode(mode)
	}
	return nil
}

// Resume restores the previous session from the local database, if one
// exists. A single ping decides the starting mode; the connectivity watcher
// keeps it fresh afterwards. It reports whether a session was restored.
func (a *App) Resume(ctx context.Context) bool {
	userName, err := a.authService.Resume(ctx)
	if err != nil {
		if !errors.Is(err, client.ErrLocalDataNotAvailable) {
			log.Printf("Session restore failed: %s", err.Error())
		}
		return false
	}

	a.userName = userName
	log.Printf("Resumed session for %s", userName)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = a.authService.Ping(pctx)
	cancel()
	if err != nil {
		a.setMode(ModeOffline)
	} else {
		a.setMode(ModeOnline)
	}
	return true
}

// Logout drops the stored session and tokens. The note mirror stays on
// disk, but with the session gone the next login has to reach the server.
func (a *App) Logout(ctx context.Context) error {
	if err := a.authService.Logout(ctx); err != nil {
		return err
	}
	a.userName = ""
	return nil
}

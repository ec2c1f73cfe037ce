// Package services contains application services for the NoteKeeper client.
// This file defines the authentication service: online/offline login,
// register, session resumption, and housekeeping of local session metadata.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notekeeper/internal/dbx"
)

// Metadata keys the session is persisted under.
const (
	metaUsername     = "username"
	metaRefreshToken = "refresh_token"
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server and persist the session.
//   - OfflineLogin: verify the account name against the locally cached session.
//   - Register: create a new user on the server.
//   - Resume: restore the stored session, refreshing tokens when reachable.
//   - Ping: check server liveness.
//   - Close: release underlying client resources.
//   - Logout: wipe the locally cached session.
//
// All methods must honor context cancellation/timeouts.
type AuthService interface {
	OfflineLogin(ctx context.Context, username string) error
	OnlineLogin(ctx context.Context, username string, password []byte) error
	Register(ctx context.Context, username string, password []byte) error
	Resume(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Logout(ctx context.Context) error
}

// authService is the concrete AuthService backed by a remote Client
// and a local SQL database for session metadata.
type authService struct {
	client client.Client
	db     *sql.DB
}

// NewAuthService constructs an AuthService bound to the given API client and DB.
func NewAuthService(client client.Client, db *sql.DB) AuthService {
	return &authService{client: client, db: db}
}

func (a *authService) getMetadataRepo() metadata.Repository {
	return metadata.NewSQLiteRepository(a.db)
}

// OfflineLogin checks the account name against the locally cached session.
// There is no password to verify: the local mirror is not encrypted, the
// check only keeps a different account from resuming over this one's data.
// If no session is cached, returns client.ErrLocalDataNotAvailable; on a
// name mismatch, client.ErrUnauthorized.
func (a *authService) OfflineLogin(ctx context.Context, username string) error {
	savedUsername, err := a.getMetadataRepo().Get(ctx, metaUsername)
	if err != nil {
		return fmt.Errorf("error reading session: %w", err)
	}
	if len(savedUsername) == 0 {
		return client.ErrLocalDataNotAvailable
	}
	if string(savedUsername) != username {
		return client.ErrUnauthorized
	}
	return nil
}

// OnlineLogin authenticates against the server and persists the session
// (username and refresh token) so later starts can resume without a password.
func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) error {
	if err := a.client.Login(ctx, username, string(password)); err != nil {
		return fmt.Errorf("login error: %w", err)
	}

	if err := a.dropForeignMirror(ctx, username); err != nil {
		return fmt.Errorf("local data cleanup error: %w", err)
	}

	if err := a.saveSession(ctx, username); err != nil {
		return fmt.Errorf("session saving error: %w", err)
	}
	return nil
}

// dropForeignMirror wipes the local mirror when a different account logs in.
// Rows are not tagged by owner, so nothing from the previous account may
// survive into the new session, dirty rows included.
func (a *authService) dropForeignMirror(ctx context.Context, username string) error {
	stored, err := a.getMetadataRepo().Get(ctx, metaUsername)
	if err != nil {
		return err
	}
	if len(stored) == 0 || string(stored) == username {
		return nil
	}

	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := notes.NewSQLiteRepository(tx).DeleteAll(ctx); err != nil {
			return err
		}
		if err := attachments.NewSQLiteRepository(tx).DeleteAll(ctx); err != nil {
			return err
		}
		return metadata.NewSQLiteRepository(tx).Clear(ctx)
	})
}

// saveSession persists the metadata required to resume later: the account
// name and the current refresh token, in a single transaction.
func (a *authService) saveSession(ctx context.Context, username string) error {
	_, refresh := a.client.Tokens()

	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Set(ctx, metaUsername, []byte(username)); err != nil {
			return err
		}
		return repo.Set(ctx, metaRefreshToken, []byte(refresh))
	})
}

// Resume restores the stored session. When the server is reachable the
// refresh token is exchanged for a fresh pair and the rotated token is
// persisted; when it is not, the session resumes offline and the reconnect
// watcher retries the exchange later. Returns the account name.
func (a *authService) Resume(ctx context.Context) (string, error) {
	repo := a.getMetadataRepo()

	savedUsername, err := repo.Get(ctx, metaUsername)
	if err != nil {
		return "", fmt.Errorf("error reading session: %w", err)
	}
	if len(savedUsername) == 0 {
		return "", client.ErrLocalDataNotAvailable
	}

	refresh, err := repo.Get(ctx, metaRefreshToken)
	if err != nil {
		return "", fmt.Errorf("error reading session: %w", err)
	}
	if len(refresh) == 0 {
		return "", client.ErrLocalDataNotAvailable
	}

	a.client.SetTokens("", string(refresh))

	if err := a.client.Refresh(ctx); err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			return string(savedUsername), nil
		}
		if errors.Is(err, client.ErrUnauthorized) {
			// the stored token is dead, a fresh login is required
			_ = repo.Delete(ctx, metaRefreshToken)
		}
		return "", fmt.Errorf("refresh error: %w", err)
	}

	if err := a.saveSession(ctx, string(savedUsername)); err != nil {
		return "", fmt.Errorf("session saving error: %w", err)
	}
	return string(savedUsername), nil
}

// Register creates a new account on the server.
func (a *authService) Register(ctx context.Context, username string, password []byte) error {
	if err := a.client.Register(ctx, username, string(password)); err != nil {
		return err
	}
	return nil
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close releases resources held by the underlying client.
func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}

// Logout forgets the in-memory tokens and wipes locally cached session
// metadata, the sync watermark included.
func (a *authService) Logout(ctx context.Context) error {
	a.client.SetTokens("", "")
	return a.getMetadataRepo().Clear(ctx)
}

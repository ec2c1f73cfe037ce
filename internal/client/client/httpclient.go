package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"
)

// HTTPClient talks to the NoteKeeper JSON API. The token pair and the
// realtime connection id are guarded by a mutex because the flush loop and
// the realtime listener touch them from separate goroutines.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	connID       string
}

// apiError preserves the HTTP status and error body of a failed call so
// mapError can translate it after the retry decision is made.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.status, e.message)
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPClient) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func (s *HTTPClient) Tokens() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.refreshToken
}

func (s *HTTPClient) SetTokens(access string, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
}

func (s *HTTPClient) SetConnectionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connID = id
}

func (s *HTTPClient) connectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// doOnce performs a single HTTP round trip. The request body is marshalled
// per call so a retry after a token refresh sends a fresh reader.
func (s *HTTPClient) doOnce(ctx context.Context, method string, path string, token string, in any, out any) error {

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if connID := s.connectionID(); connID != "" {
		req.Header.Set(protocol.HeaderConnectionID, connID)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er protocol.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
			msg = er.Error
		}
		return &apiError{status: resp.StatusCode, message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return err
		}
	}

	return nil
}

// do runs an authenticated call and, when the server rejects the access
// token as expired, refreshes the pair once and retries. The expired case is
// recognised by the exact error text the server puts on the wire.
func (s *HTTPClient) do(ctx context.Context, method string, path string, in any, out any) error {

	token, refresh := s.Tokens()

	// a session resumed offline holds only the refresh token; mint an
	// access token before the first authenticated call
	if token == "" && refresh != "" {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		token, refresh = s.Tokens()
	}

	err := s.doOnce(ctx, method, path, token, in, out)
	if err == nil {
		return nil
	}

	var ae *apiError
	if !errors.As(err, &ae) {
		return s.mapError(err)
	}
	if ae.status != http.StatusUnauthorized {
		return s.mapError(err)
	}
	if ae.message != common.ErrTokenExpired.Error() {
		return s.mapError(err)
	}
	if refresh == "" {
		return s.mapError(err)
	}

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	token, _ = s.Tokens()
	if err := s.doOnce(ctx, method, path, token, in, out); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *HTTPClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	var ae *apiError
	if !errors.As(err, &ae) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case ae.status == http.StatusUnauthorized, ae.status == http.StatusForbidden:
		return ErrUnauthorized
	case ae.status == http.StatusNotFound:
		return common.ErrorNotFound
	case ae.status == http.StatusConflict:
		return common.ErrVersionConflict
	case ae.status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrValidation, ae.message)
	case ae.status >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, ae.message)
	default:
		return fmt.Errorf("api error: %s", ae.message)
	}
}

func (s *HTTPClient) Register(ctx context.Context, username string, password string) error {

	req := &protocol.RegisterRequest{Username: username, Password: password}

	var resp protocol.TokenPairResponse
	if err := s.doOnce(ctx, http.MethodPost, "/api/register", "", req, &resp); err != nil {
		return s.mapError(err)
	}

	s.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (s *HTTPClient) Login(ctx context.Context, username string, password string) error {

	req := &protocol.LoginRequest{Username: username, Password: password}

	var resp protocol.TokenPairResponse
	if err := s.doOnce(ctx, http.MethodPost, "/api/login", "", req, &resp); err != nil {
		return s.mapError(err)
	}

	s.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (s *HTTPClient) Refresh(ctx context.Context) error {

	_, refresh := s.Tokens()
	if refresh == "" {
		return ErrUnauthorized
	}

	req := &protocol.RefreshRequest{RefreshToken: refresh}

	var resp protocol.TokenPairResponse
	if err := s.doOnce(ctx, http.MethodPost, "/api/refresh", "", req, &resp); err != nil {
		return s.mapError(err)
	}

	s.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

func (s *HTTPClient) Ping(ctx context.Context) error {

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := s.doOnce(ctx, http.MethodGet, "/healthz", "", nil, nil); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *HTTPClient) Sync(ctx context.Context,
	pending []*models.Note, pendingAttachments []*models.Attachment,
	sinceVersion int64) (*SyncResult, error) {

	req := &protocol.SyncRequest{SinceVersion: sinceVersion}

	for _, n := range pending {
		req.Pending = append(req.Pending, protocol.NotePush{
			Note:        noteToWire(n),
			BaseVersion: n.BaseVersion,
		})
	}

	for _, a := range pendingAttachments {
		req.PendingAttachments = append(req.PendingAttachments, protocol.Attachment{
			ID:       a.ID,
			NoteID:   a.NoteID,
			Filename: a.Filename,
			Size:     a.Size,
		})
	}

	var resp protocol.SyncResponse
	if err := s.do(ctx, http.MethodPost, "/api/sync", req, &resp); err != nil {
		return nil, err
	}

	result := &SyncResult{MaxVersion: resp.MaxVersion}

	for _, r := range resp.Results {
		outcome := PushOutcome{
			NoteID:  r.NoteID,
			Status:  r.Status,
			Version: r.Version,
			Error:   r.Error,
		}
		if r.Note != nil {
			outcome.Note = NoteFromWire(*r.Note)
		}
		result.Results = append(result.Results, outcome)
	}

	for _, n := range resp.Notes {
		result.Notes = append(result.Notes, NoteFromWire(n))
	}

	for _, a := range resp.Attachments {
		result.Attachments = append(result.Attachments, &models.Attachment{
			ID:          a.ID,
			NoteID:      a.NoteID,
			Filename:    a.Filename,
			Size:        a.Size,
			Version:     a.Version,
			UploadState: a.UploadState,
		})
	}

	for _, t := range resp.UploadTasks {
		result.UploadTasks = append(result.UploadTasks, UploadTask{AttachmentID: t.AttachmentID, URL: t.URL})
	}

	return result, nil
}

func (s *HTTPClient) GetNote(ctx context.Context, id string) (*models.Note, error) {

	var resp protocol.Note
	if err := s.do(ctx, http.MethodGet, "/api/notes/"+id, nil, &resp); err != nil {
		return nil, err
	}

	return NoteFromWire(resp), nil
}

func (s *HTTPClient) MarkUploaded(ctx context.Context, attachmentID string) error {
	return s.do(ctx, http.MethodPost, "/api/attachments/"+attachmentID+"/uploaded", nil, nil)
}

func (s *HTTPClient) AttachmentURL(ctx context.Context, attachmentID string) (string, error) {

	var resp protocol.AttachmentURLResponse
	if err := s.do(ctx, http.MethodGet, "/api/attachments/"+attachmentID, nil, &resp); err != nil {
		return "", err
	}

	return resp.URL, nil
}

func noteToWire(n *models.Note) protocol.Note {
	return protocol.Note{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Tags:      n.Tags,
		Pinned:    n.Pinned,
		Favorite:  n.Favorite,
		Archived:  n.Archived,
		Trashed:   n.Trashed,
		Deleted:   n.Deleted,
		Version:   n.Version,
		UpdatedAt: n.UpdatedAt,
	}
}

// NoteFromWire builds the local mirror of a server copy: clean, with
// base_version pinned to the version the server just assigned.
func NoteFromWire(w protocol.Note) *models.Note {
	return &models.Note{
		ID:          w.ID,
		Title:       w.Title,
		Body:        w.Body,
		Tags:        w.Tags,
		Pinned:      w.Pinned,
		Favorite:    w.Favorite,
		Archived:    w.Archived,
		Trashed:     w.Trashed,
		Deleted:     w.Deleted,
		Version:     w.Version,
		UpdatedAt:   w.UpdatedAt,
		Dirty:       false,
		BaseVersion: w.Version,
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {

	s.logger.Info(r.Context(), "Registration request")

	var req protocol.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := s.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	s.logger.Info(r.Context(), "Registered", "username", req.Username)
	writeJSON(w, http.StatusOK, protocol.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {

	var req protocol.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {

	var req protocol.RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {

	userID := userIDFromContext(r.Context())

	var req protocol.SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pending := make([]*models.NotePush, 0, len(req.Pending))
	for i := range req.Pending {
		pending = append(pending, pushFromWire(&req.Pending[i]))
	}
	pendingAttachments := make([]*models.Attachment, 0, len(req.PendingAttachments))
	for i := range req.PendingAttachments {
		pendingAttachments = append(pendingAttachments, attachmentFromWire(&req.PendingAttachments[i]))
	}

	results, updatedNotes, updatedAttachments, tasks, maxVersion, err := s.notes.Sync(
		r.Context(), userID, connIDFromRequest(r), pending, pendingAttachments, req.SinceVersion)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	resp := protocol.SyncResponse{MaxVersion: maxVersion}
	for _, result := range results {
		resp.Results = append(resp.Results, resultToWire(result))
	}
	for _, n := range updatedNotes {
		resp.Notes = append(resp.Notes, noteToWire(n))
	}
	for _, a := range updatedAttachments {
		resp.Attachments = append(resp.Attachments, attachmentToWire(a))
	}
	for _, task := range tasks {
		resp.UploadTasks = append(resp.UploadTasks, protocol.UploadTask{
			AttachmentID: task.AttachmentID,
			URL:          task.URL,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {

	userID := userIDFromContext(r.Context())

	note, err := s.notes.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, noteToWire(note))
}

func (s *Server) handleMarkUploaded(w http.ResponseWriter, r *http.Request) {

	userID := userIDFromContext(r.Context())

	if err := s.notes.MarkUploaded(r.Context(), userID, r.PathValue("id")); err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttachmentURL(w http.ResponseWriter, r *http.Request) {

	userID := userIDFromContext(r.Context())

	url, err := s.notes.GetAttachmentURL(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, protocol.AttachmentURLResponse{URL: url})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message})
}

// writeServiceError maps service errors to HTTP statuses. Internal failures
// are logged and flattened so implementation details stay off the wire.
func (s *Server) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFromError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", "error", err)
		message = "internal error"
	}
	writeError(w, status, message)
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func noteToWire(n *models.Note) protocol.Note {
	if n == nil {
		return protocol.Note{}
	}
	return protocol.Note{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Tags:      n.Tags,
		Pinned:    n.Pinned,
		Favorite:  n.Favorite,
		Archived:  n.Archived,
		Trashed:   n.Trashed,
		Deleted:   n.DeletedAt != nil,
		Version:   n.Version,
		UpdatedAt: n.UpdatedAt,
	}
}

func pushFromWire(p *protocol.NotePush) *models.NotePush {
	return &models.NotePush{
		Note: &models.Note{
			ID:        p.ID,
			Title:     p.Title,
			Body:      p.Body,
			Tags:      p.Tags,
			Pinned:    p.Pinned,
			Favorite:  p.Favorite,
			Archived:  p.Archived,
			Trashed:   p.Trashed,
			UpdatedAt: p.UpdatedAt,
		},
		BaseVersion: p.BaseVersion,
	}
}

func resultToWire(r *models.PushResult) protocol.PushResult {
	out := protocol.PushResult{NoteID: r.NoteID}
	switch {
	case r.Invalid != "":
		out.Status = protocol.PushStatusInvalid
		out.Error = r.Invalid
	case r.Conflict:
		out.Status = protocol.PushStatusConflict
		if r.Note != nil {
			n := noteToWire(r.Note)
			out.Note = &n
			out.Version = r.Note.Version
		}
	default:
		out.Status = protocol.PushStatusOK
		if r.Note != nil {
			out.Version = r.Note.Version
		}
	}
	return out
}

func attachmentFromWire(a *protocol.Attachment) *models.Attachment {
	return &models.Attachment{
		ID:       a.ID,
		NoteID:   a.NoteID,
		Filename: a.Filename,
		Size:     a.Size,
	}
}

func attachmentToWire(a *models.Attachment) protocol.Attachment {
	return protocol.Attachment{
		ID:          a.ID,
		NoteID:      a.NoteID,
		Filename:    a.Filename,
		Size:        a.Size,
		Version:     a.Version,
		UploadState: a.UploadState,
	}
}

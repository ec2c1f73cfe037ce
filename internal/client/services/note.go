package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notekeeper/internal/filex"
	"github.com/dmitrijs2005/notekeeper/internal/netx"
)

const (
	uploadDir   = "uploads"
	downloadDir = "download"
)

// syncEngine is the slice of the sync engine the note service drives:
// local edits go through it so dirty-state bookkeeping stays in one place.
type syncEngine interface {
	ApplyLocalEdit(ctx context.Context, noteID string, patch *models.Patch) (*models.Note, error)
	FlushDirty(ctx context.Context) error
	Kick()
}

// NoteService exposes the note operations the CLI works with. Writes land
// in the local mirror immediately and are pushed in the background.
type NoteService interface {
	Add(ctx context.Context, title string, body string, tags []string) (*models.Note, error)
	Edit(ctx context.Context, id string, patch *models.Patch) (*models.Note, error)
	List(ctx context.Context, trashed bool) ([]*models.Note, error)
	Get(ctx context.Context, id string) (*models.Note, error)
	Trash(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	Attach(ctx context.Context, noteID string, path string) (*models.Attachment, error)
	Attachments(ctx context.Context, noteID string) ([]*models.Attachment, error)
	Download(ctx context.Context, attachmentID string) (string, error)
	Sync(ctx context.Context) error
}

type noteService struct {
	client         client.Client
	engine         syncEngine
	noteRepo       notes.Repository
	attachmentRepo attachments.Repository
}

func NewNoteService(client client.Client, engine syncEngine, noteRepo notes.Repository, attachmentRepo attachments.Repository) NoteService {
	return &noteService{client: client, engine: engine, noteRepo: noteRepo, attachmentRepo: attachmentRepo}
}

func (s *noteService) Add(ctx context.Context, title string, body string, tags []string) (*models.Note, error) {
	patch := &models.Patch{Title: &title, Body: &body, Tags: &tags}

	note, err := s.engine.ApplyLocalEdit(ctx, "", patch)
	if err != nil {
		return nil, fmt.Errorf("error saving note: %w", err)
	}

	s.engine.Kick()
	return note, nil
}

func (s *noteService) Edit(ctx context.Context, id string, patch *models.Patch) (*models.Note, error) {
	note, err := s.engine.ApplyLocalEdit(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("error saving note: %w", err)
	}

	s.engine.Kick()
	return note, nil
}

func (s *noteService) List(ctx context.Context, trashed bool) ([]*models.Note, error) {
	rows, err := s.noteRepo.List(ctx, trashed)
	if err != nil {
		return nil, fmt.Errorf("error listing notes: %w", err)
	}
	return rows, nil
}

func (s *noteService) Get(ctx context.Context, id string) (*models.Note, error) {
	note, err := s.noteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error retrieving note: %w", err)
	}
	return note, nil
}

func (s *noteService) Trash(ctx context.Context, id string) error {
	return s.setTrashed(ctx, id, true)
}

func (s *noteService) Restore(ctx context.Context, id string) error {
	return s.setTrashed(ctx, id, false)
}

func (s *noteService) setTrashed(ctx context.Context, id string, trashed bool) error {
	if _, err := s.engine.ApplyLocalEdit(ctx, id, &models.Patch{Trashed: &trashed}); err != nil {
		return fmt.Errorf("error saving note: %w", err)
	}
	s.engine.Kick()
	return nil
}

// Attach registers a file as a pending attachment of the given note. The
// content is copied into a staging directory owned by the engine: uploads
// run in the background and the staged copy is removed after the server
// confirms, so the user's original file is never touched.
func (s *noteService) Attach(ctx context.Context, noteID string, path string) (*models.Attachment, error) {
	if _, err := s.noteRepo.GetByID(ctx, noteID); err != nil {
		return nil, fmt.Errorf("error loading note: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	dir, err := filex.EnsureSubdDir(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("error preparing staging dir: %w", err)
	}

	a := &models.Attachment{
		ID:          uuid.NewString(),
		NoteID:      noteID,
		Filename:    filepath.Base(path),
		Size:        int64(len(content)),
		UploadState: models.UploadStatePending,
		Dirty:       true,
	}

	staged := filepath.Join(dir, a.ID)
	if err := os.WriteFile(staged, content, 0o600); err != nil {
		return nil, fmt.Errorf("error staging file: %w", err)
	}
	a.LocalPath = staged

	if err := s.attachmentRepo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}

	s.engine.Kick()
	return a, nil
}

func (s *noteService) Attachments(ctx context.Context, noteID string) ([]*models.Attachment, error) {
	rows, err := s.attachmentRepo.ListByNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("error listing attachments: %w", err)
	}
	return rows, nil
}

// Download fetches attachment content over a presigned URL and writes it
// to ./download/<filename>. Returns the written path.
func (s *noteService) Download(ctx context.Context, attachmentID string) (string, error) {
	a, err := s.attachmentRepo.GetByID(ctx, attachmentID)
	if err != nil {
		return "", fmt.Errorf("error loading attachment: %w", err)
	}

	url, err := s.client.AttachmentURL(ctx, attachmentID)
	if err != nil {
		return "", fmt.Errorf("error requesting download url: %w", err)
	}

	content, err := netx.DownloadFromS3PresignedURL(url)
	if err != nil {
		return "", fmt.Errorf("download error: %w", err)
	}

	dir, err := filex.EnsureSubdDir(downloadDir)
	if err != nil {
		return "", err
	}

	outputFile := filepath.Join(dir, a.Filename)
	if err := os.WriteFile(outputFile, content, 0o600); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}
	return outputFile, nil
}

// Sync runs one flush round right now instead of waiting for the timer.
func (s *noteService) Sync(ctx context.Context) error {
	return s.engine.FlushDirty(ctx)
}

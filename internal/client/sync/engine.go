// Package sync keeps the local note mirror converged with the backend.
// Local edits only mark rows dirty; a flush loop pushes them in rounds and
// merges whatever the server sends back under last-writer-wins.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notekeeper/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/netx"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"
)

const watermarkKey = "sync_watermark"

const (
	flushBackoffBase = 500 * time.Millisecond
	flushBackoffCap  = 5 * time.Second
	flushMaxRetries  = 3
)

// Notice reports a sync event the user should see: a discarded local edit
// or a push the server rejected as invalid.
type Notice struct {
	NoteID  string
	Title   string
	Message string
}

// Engine drives the mirror. A single Run loop performs flush rounds; the
// in-flight set keeps an on-demand round from re-pushing a note a
// concurrent round already carries.
type Engine struct {
	client   client.Client
	notes    notes.Repository
	files    attachments.Repository
	metadata metadata.Repository

	flushInterval time.Duration
	onNotice      func(Notice)

	mu       stdsync.Mutex
	inflight map[string]struct{}

	kick chan struct{}
}

func NewEngine(apiClient client.Client, repos *client.Repositories, flushInterval time.Duration) *Engine {
	return &Engine{
		client:        apiClient,
		notes:         repos.Notes,
		files:         repos.Attachments,
		metadata:      repos.Metadata,
		flushInterval: flushInterval,
		inflight:      make(map[string]struct{}),
		kick:          make(chan struct{}, 1),
	}
}

// OnNotice installs the notice callback. Set it before Run starts.
func (e *Engine) OnNotice(fn func(Notice)) {
	e.onNotice = fn
}

// ApplyLocalEdit merges a patch into the mirror row, stamps it and marks it
// dirty. It never touches the network; the flush loop ships the result. An
// empty noteID creates a fresh note.
func (e *Engine) ApplyLocalEdit(ctx context.Context, noteID string, patch *models.Patch) (*models.Note, error) {

	var n *models.Note

	if noteID == "" {
		n = &models.Note{ID: uuid.NewString()}
	} else {
		existing, err := e.notes.GetByID(ctx, noteID)
		if err != nil {
			return nil, fmt.Errorf("error retrieving note: %w", err)
		}
		n = existing
	}

	patch.Apply(n)
	n.Dirty = true
	n.UpdatedAt = time.Now().UTC()

	if err := e.notes.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("error saving note: %w", err)
	}

	return n, nil
}

// FlushDirty runs one sync round: it pushes every dirty row not already in
// flight, merges the server's answer, uploads pending attachment content
// and advances the watermark. Rapid edits coalesce because only the latest
// mirror state ships. Transient transport failures are retried with capped
// exponential backoff; rows stay dirty until the server acknowledges them.
func (e *Engine) FlushDirty(ctx context.Context) error {

	// nothing to push or pull without a session
	if access, refresh := e.client.Tokens(); access == "" && refresh == "" {
		return nil
	}

	dirty, err := e.notes.GetDirty(ctx)
	if err != nil {
		return fmt.Errorf("error retrieving dirty notes: %w", err)
	}

	pending := e.claim(dirty)
	defer e.release(pending)

	pendingFiles, err := e.files.GetDirty(ctx)
	if err != nil {
		return fmt.Errorf("error retrieving dirty attachments: %w", err)
	}

	since, err := e.watermark(ctx)
	if err != nil {
		return err
	}

	var res *client.SyncResult

	b := retry.WithMaxRetries(flushMaxRetries,
		retry.WithCappedDuration(flushBackoffCap, retry.NewExponential(flushBackoffBase)))

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		r, err := e.client.Sync(ctx, pending, pendingFiles, since)
		if err != nil {
			if errors.Is(err, client.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync round failed: %w", err)
	}

	pushed := make(map[string]*models.Note, len(pending))
	for _, n := range pending {
		pushed[n.ID] = n
	}

	for _, outcome := range res.Results {
		switch outcome.Status {

		case protocol.PushStatusOK:
			snap := pushed[outcome.NoteID]
			if snap == nil {
				continue
			}
			if err := e.notes.MarkClean(ctx, outcome.NoteID, outcome.Version, snap.UpdatedAt); err != nil {
				return fmt.Errorf("error acknowledging push: %w", err)
			}

		case protocol.PushStatusConflict:
			if outcome.Note == nil {
				continue
			}
			if err := e.MergeInbound(ctx, outcome.Note); err != nil {
				return err
			}

		case protocol.PushStatusInvalid:
			snap := pushed[outcome.NoteID]
			title := ""
			if snap != nil {
				title = snap.Title
			}
			e.notify(Notice{NoteID: outcome.NoteID, Title: title,
				Message: fmt.Sprintf("rejected by server: %s", outcome.Error)})
		}
	}

	for _, n := range res.Notes {
		if err := e.MergeInbound(ctx, n); err != nil {
			return err
		}
	}

	for _, a := range res.Attachments {
		if err := e.mergeAttachment(ctx, a); err != nil {
			return err
		}
	}

	for _, task := range res.UploadTasks {
		if err := e.uploadAttachment(ctx, task); err != nil {
			// the row stays dirty, the next round retries the upload
			log.Printf("attachment upload failed: %v", err)
		}
	}

	if res.MaxVersion > since {
		if err := e.saveWatermark(ctx, res.MaxVersion); err != nil {
			return err
		}
	}

	return nil
}

// MergeInbound applies a server copy to the mirror under last-writer-wins.
// Clean rows take the server copy unless it is older than what we already
// mirror. Dirty rows keep the local edit unless the server copy is newer
// than the version the edit was based on; then the server wins and a
// conflict notice is emitted.
func (e *Engine) MergeInbound(ctx context.Context, serverNote *models.Note) error {

	local, err := e.notes.GetByID(ctx, serverNote.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return e.notes.Save(ctx, serverNote)
	}
	if err != nil {
		return fmt.Errorf("error retrieving note: %w", err)
	}

	if !local.Dirty {
		if serverNote.Version < local.Version {
			return nil
		}
		return e.notes.Save(ctx, serverNote)
	}

	if serverNote.Version > local.BaseVersion {
		if err := e.notes.Save(ctx, serverNote); err != nil {
			return err
		}
		e.notify(Notice{NoteID: local.ID, Title: local.Title,
			Message: "local edit discarded, a newer copy arrived from another device"})
		return nil
	}

	// our edit is based on this or a newer version, the next push carries it
	return nil
}

func (e *Engine) mergeAttachment(ctx context.Context, a *models.Attachment) error {
	local, err := e.files.GetByID(ctx, a.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return e.files.Save(ctx, a)
	}
	if err != nil {
		return fmt.Errorf("error retrieving attachment: %w", err)
	}
	if local.Dirty {
		return nil
	}
	a.LocalPath = local.LocalPath
	return e.files.Save(ctx, a)
}

func (e *Engine) uploadAttachment(ctx context.Context, task client.UploadTask) error {

	a, err := e.files.GetByID(ctx, task.AttachmentID)
	if err != nil {
		return fmt.Errorf("error retrieving attachment: %w", err)
	}
	if a.UploadState == models.UploadStateUploaded {
		return nil
	}

	content, err := os.ReadFile(a.LocalPath)
	if err != nil {
		return fmt.Errorf("error reading attachment content: %w", err)
	}

	if err := netx.UploadToS3PresignedURL(task.URL, content); err != nil {
		return fmt.Errorf("error uploading attachment: %w", err)
	}

	if err := e.client.MarkUploaded(ctx, a.ID); err != nil {
		return fmt.Errorf("error confirming upload: %w", err)
	}

	if err := e.files.MarkUploaded(ctx, a.ID); err != nil {
		return err
	}

	_ = os.Remove(a.LocalPath)
	return nil
}

// Run drives flush rounds until the context is cancelled. Rounds fire on
// the timer and on Kick.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}

		// unreachable-server rounds are routine while offline, the
		// connectivity watcher already reports the mode switch
		if err := e.FlushDirty(ctx); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, client.ErrUnavailable) {
			log.Printf("sync round error: %v", err)
		}
	}
}

// Kick schedules an immediate flush round. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) claim(dirty []*models.Note) []*models.Note {
	e.mu.Lock()
	defer e.mu.Unlock()

	claimed := make([]*models.Note, 0, len(dirty))
	for _, n := range dirty {
		if _, busy := e.inflight[n.ID]; busy {
			continue
		}
		e.inflight[n.ID] = struct{}{}
		claimed = append(claimed, n)
	}
	return claimed
}

func (e *Engine) release(claimed []*models.Note) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, n := range claimed {
		delete(e.inflight, n.ID)
	}
}

func (e *Engine) notify(n Notice) {
	if e.onNotice != nil {
		e.onNotice(n)
	}
}

func (e *Engine) watermark(ctx context.Context) (int64, error) {
	raw, err := e.metadata.Get(ctx, watermarkKey)
	if err != nil {
		return 0, fmt.Errorf("error reading watermark: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark %q: %w", raw, err)
	}
	return v, nil
}

func (e *Engine) saveWatermark(ctx context.Context, v int64) error {
	if err := e.metadata.Set(ctx, watermarkKey, []byte(strconv.FormatInt(v, 10))); err != nil {
		return fmt.Errorf("error saving watermark: %w", err)
	}
	return nil
}

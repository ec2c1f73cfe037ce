package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/dbx"
	"github.com/dmitrijs2005/notekeeper/internal/server/broker"
	"github.com/dmitrijs2005/notekeeper/internal/server/cache"
	sc "github.com/dmitrijs2005/notekeeper/internal/server/config"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
	"github.com/dmitrijs2005/notekeeper/internal/server/repositories/notes"
	"github.com/dmitrijs2005/notekeeper/internal/server/repositories/repomanager"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// NoteService implements note writes with optimistic concurrency, watermark
// sync, read-through caching, and attachment upload orchestration. After
// every committed write it invalidates the cache and publishes the mutation
// to the broker for room fan-out.
type NoteService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	cache       *cache.Coordinator
	broker      broker.Broker
}

func NewNoteService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	cache *cache.Coordinator, broker broker.Broker) *NoteService {
	return &NoteService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		cache:       cache,
		broker:      broker,
	}
}

func GetRandomStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("users/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *NoteService) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,     // MINIO_ROOT_USER
			s.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

func (s *NoteService) GetPresignedPutUrl(ctx context.Context) (string, string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := GetRandomStorageKey()

	// Presigned PUT
	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))

	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

func (s *NoteService) GetPresignedGetUrl(ctx context.Context, key string) (string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket

	// Presigned GET
	reg, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}

	return reg.URL, nil
}

func validateNote(n *models.Note) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: note id is required", common.ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	return nil
}

func pushAction(push *models.NotePush) string {
	switch {
	case push.Note.Trashed:
		return broker.ActionTrashed
	case push.BaseVersion == 0:
		return broker.ActionCreated
	default:
		return broker.ActionUpdated
	}
}

// afterCommit runs the post-commit side effects of a note write: cache
// invalidation first, then broker publish so no subscriber can observe the
// event while stale cache entries are still readable.
func (s *NoteService) afterCommit(ctx context.Context, userID string, originConnID string, note *models.Note, action string) {
	s.cache.OnWriteCommitted(ctx, userID, note.ID)
	s.broker.Publish(ctx, &broker.NoteEvent{
		UserID:       userID,
		NoteID:       note.ID,
		Action:       action,
		OriginConnID: originConnID,
		Note:         note,
	})
}

// Push persists one client write. The version is drawn from the user's
// sequence inside the transaction; the upsert only lands if the stored
// version still equals push.BaseVersion. On a stale base the authoritative
// note is returned together with common.ErrVersionConflict so the caller
// can hand it to the losing client.
func (s *NoteService) Push(ctx context.Context, userID string, originConnID string, push *models.NotePush) (*models.Note, error) {
	if err := validateNote(push.Note); err != nil {
		return nil, err
	}

	note := *push.Note
	note.UserID = userID
	note.UpdatedAt = time.Now().UTC()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		version, err := s.repomanager.Users(tx).IncrementCurrentVersion(ctx, userID)
		if err != nil {
			return err
		}
		note.Version = version
		return s.repomanager.Notes(tx).Upsert(ctx, &note, push.BaseVersion)
	})
	if err != nil {
		if errors.Is(err, common.ErrVersionConflict) {
			current, getErr := s.repomanager.Notes(s.db).GetByID(ctx, userID, push.Note.ID)
			if getErr != nil {
				return nil, fmt.Errorf("error loading conflicting note: %w", getErr)
			}
			return current, common.ErrVersionConflict
		}
		return nil, fmt.Errorf("error saving note: %w", err)
	}

	s.afterCommit(ctx, userID, originConnID, &note, pushAction(push))
	return &note, nil
}

// Get returns one note, serving from cache when possible. A cached note
// owned by someone else is treated as a miss so ownership is always
// enforced by the store.
func (s *NoteService) Get(ctx context.Context, userID string, id string) (*models.Note, error) {
	if note, ok := s.cache.GetNote(ctx, id); ok && note.UserID == userID {
		return note, nil
	}

	note, err := s.repomanager.Notes(s.db).GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetNote(ctx, note)
	return note, nil
}

// List returns the user's notes for the given filter, read-through cached
// per filter signature.
func (s *NoteService) List(ctx context.Context, userID string, filter notes.Filter) ([]*models.Note, error) {
	sig := filter.Signature()
	if result, ok := s.cache.GetList(ctx, userID, sig); ok {
		return result, nil
	}

	result, err := s.repomanager.Notes(s.db).List(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	s.cache.SetList(ctx, userID, sig, result)
	return result, nil
}

// Delete moves a note to the trash. The tombstone is a regular versioned
// write, so peers pick it up through sync and room fan-out like any edit.
func (s *NoteService) Delete(ctx context.Context, userID string, originConnID string, id string) (*models.Note, error) {
	return s.setTrashed(ctx, userID, originConnID, id, true, broker.ActionTrashed)
}

// Restore brings a trashed note back.
func (s *NoteService) Restore(ctx context.Context, userID string, originConnID string, id string) (*models.Note, error) {
	return s.setTrashed(ctx, userID, originConnID, id, false, broker.ActionRestored)
}

func (s *NoteService) setTrashed(ctx context.Context, userID string, originConnID string, id string, trashed bool, action string) (*models.Note, error) {
	var note *models.Note
	var changed bool

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		current, err := s.repomanager.Notes(tx).GetByID(ctx, userID, id)
		if err != nil {
			return err
		}
		if current.Trashed == trashed {
			note = current
			return nil
		}

		version, err := s.repomanager.Users(tx).IncrementCurrentVersion(ctx, userID)
		if err != nil {
			return err
		}

		baseVersion := current.Version
		current.Trashed = trashed
		current.Version = version
		current.UpdatedAt = time.Now().UTC()
		if err := s.repomanager.Notes(tx).Upsert(ctx, current, baseVersion); err != nil {
			return err
		}

		note = current
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterCommit(ctx, userID, originConnID, note, action)
	}
	return note, nil
}

// Sync is the batch endpoint of the pull/push protocol. Pending notes are
// pushed first (each in its own transaction, so one stale note does not
// fail the batch), pending attachments get rows plus presigned PUT tasks,
// and only then is the watermark read taken. Version allocation holds the
// user row lock until commit, so the read sees a contiguous prefix and the
// returned MaxVersion never skips a committed write.
func (s *NoteService) Sync(ctx context.Context, userID string, originConnID string,
	pending []*models.NotePush, pendingAttachments []*models.Attachment, sinceVersion int64) (
	[]*models.PushResult, []*models.Note, []*models.Attachment, []*models.UploadTask, int64, error) {

	results := make([]*models.PushResult, 0, len(pending))
	for _, p := range pending {
		if p == nil || p.Note == nil {
			continue
		}
		committed, err := s.Push(ctx, userID, originConnID, p)
		switch {
		case err == nil:
			results = append(results, &models.PushResult{NoteID: p.Note.ID, Note: committed})
		case errors.Is(err, common.ErrVersionConflict):
			results = append(results, &models.PushResult{NoteID: p.Note.ID, Conflict: true, Note: committed})
		case errors.Is(err, common.ErrValidation):
			results = append(results, &models.PushResult{NoteID: p.Note.ID, Invalid: err.Error()})
		default:
			return nil, nil, nil, nil, 0, err
		}
	}

	var uploadTasks []*models.UploadTask
	var newAttachments []*models.Attachment
	for _, a := range pendingAttachments {
		if a.ID == "" || a.NoteID == "" {
			return nil, nil, nil, nil, 0, fmt.Errorf("%w: attachment id and note id are required", common.ErrValidation)
		}

		storageKey, url, err := s.GetPresignedPutUrl(ctx)
		if err != nil {
			return nil, nil, nil, nil, 0, err
		}

		att := &models.Attachment{
			ID:          a.ID,
			NoteID:      a.NoteID,
			UserID:      userID,
			Filename:    a.Filename,
			Size:        a.Size,
			StorageKey:  storageKey,
			UploadState: models.UploadStatePending,
		}
		newAttachments = append(newAttachments, att)
		uploadTasks = append(uploadTasks, &models.UploadTask{AttachmentID: att.ID, URL: url})
	}

	if len(newAttachments) > 0 {
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			for _, att := range newAttachments {
				version, err := s.repomanager.Users(tx).IncrementCurrentVersion(ctx, userID)
				if err != nil {
					return err
				}
				att.Version = version
				if err := s.repomanager.Attachments(tx).CreateOrUpdate(ctx, att); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, nil, nil, nil, 0, fmt.Errorf("error saving attachments: %w", err)
		}
	}

	updatedNotes, err := s.repomanager.Notes(s.db).SelectUpdated(ctx, userID, sinceVersion)
	if err != nil {
		return nil, nil, nil, nil, 0, err
	}
	updatedAttachments, err := s.repomanager.Attachments(s.db).SelectUpdated(ctx, userID, sinceVersion)
	if err != nil {
		return nil, nil, nil, nil, 0, err
	}

	maxVersion := sinceVersion
	for _, n := range updatedNotes {
		if n.Version > maxVersion {
			maxVersion = n.Version
		}
	}
	for _, a := range updatedAttachments {
		if a.Version > maxVersion {
			maxVersion = a.Version
		}
	}

	return results, updatedNotes, updatedAttachments, uploadTasks, maxVersion, nil
}

// MarkUploaded records the client's confirmation that attachment content
// landed in object storage.
func (s *NoteService) MarkUploaded(ctx context.Context, userID string, id string) error {
	if err := s.repomanager.Attachments(s.db).MarkUploaded(ctx, userID, id); err != nil {
		return fmt.Errorf("error updating attachment: %w", err)
	}
	return nil
}

// GetAttachmentURL authorizes the download and returns a presigned GET URL
// for the attachment content.
func (s *NoteService) GetAttachmentURL(ctx context.Context, userID string, id string) (string, error) {
	a, err := s.repomanager.Attachments(s.db).GetByID(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return s.GetPresignedGetUrl(ctx, a.StorageKey)
}

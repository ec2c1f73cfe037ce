package attachments

import (
	"context"

	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

type Repository interface {
	CreateOrUpdate(ctx context.Context, attachment *models.Attachment) error
	SelectUpdated(ctx context.Context, userID string, minVersion int64) ([]*models.Attachment, error)
	MarkUploaded(ctx context.Context, userID string, id string) error
	GetByID(ctx context.Context, userID string, id string) (*models.Attachment, error)
}

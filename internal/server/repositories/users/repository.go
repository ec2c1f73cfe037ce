package users

import (
	"context"

	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)

	// IncrementCurrentVersion bumps the user's version sequence and returns
	// the new value. Every committed note or attachment write draws its
	// version from here, so versions are totally ordered per user.
	IncrementCurrentVersion(ctx context.Context, userID string) (int64, error)
}

package interfaces

import (
	"context"
	"errors"

	"github.com/choco2105/magic-reading/internal/models"
)

// ErrCacheMiss is returned by StoryCache.GetStory when the story is not cached
var ErrCacheMiss = errors.New("cache miss")

// StoryCache is an optional write-through cache in front of the document store
type StoryCache interface {
	PutStory(ctx context.Context, story *models.Story) error
	GetStory(ctx context.Context, id string) (*models.Story, error)
	// PushRecent records storyID as the user's most recent story
	PushRecent(ctx context.Context, userID, storyID string) error
	RecentStoryIDs(ctx context.Context, userID string, limit int) ([]string, error)
}

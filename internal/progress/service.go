package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
)

const (
	DefaultProgressLimit = 10
	DefaultHistoryLimit  = 20
	maxLimit             = 100
)

// ErrInvalidInput matches every *ValidationError
var ErrInvalidInput = errors.New("invalid input")

// ValidationError rejects caller input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// SaveInput is one finished reading session as reported by the client
type SaveInput struct {
	UserID         string `json:"userId"`
	StoryID        string `json:"storyId"`
	Level          string `json:"level"`
	Topic          string `json:"topic"`
	Correct        int    `json:"correct"`
	Incorrect      int    `json:"incorrect"`
	Total          int    `json:"total"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

// SaveResult is returned after a session has been recorded
type SaveResult struct {
	ProgressID     string `json:"progressId"`
	PointsAwarded  int    `json:"pointsAwarded"`
	Completed      bool   `json:"completed"`
	PercentCorrect int    `json:"percentCorrect"`
	Message        string `json:"message"`
}

// Overview is a user's progress page
type Overview struct {
	Records    []models.UserProgressRecord `json:"records"`
	User       *models.UserProfile         `json:"user"`
	Evaluation Evaluation                  `json:"evaluation"`
	Statistics Statistics                  `json:"statistics"`
}

// Service records reading sessions and reader profiles in the document store
type Service struct {
	store interfaces.DocumentStore
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store interfaces.DocumentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, log: log.With("component", "progress"), now: time.Now}
}

// Save validates a session, scores it and appends a progress record
func (s *Service) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	level, err := validateSave(&in)
	if err != nil {
		return nil, err
	}

	rec := models.UserProgressRecord{
		UserID:         in.UserID,
		StoryID:        in.StoryID,
		Level:          level,
		Topic:          in.Topic,
		CorrectCount:   in.Correct,
		IncorrectCount: in.Incorrect,
		TotalQuestions: in.Total,
		PercentCorrect: PercentCorrect(in.Correct, in.Total),
		PointsAwarded:  Points(in.Correct, in.Total, level),
		Completed:      IsCompleted(in.Correct, in.Total),
		ElapsedSeconds: in.ElapsedSeconds,
		CreatedAt:      s.now().UTC(),
	}

	id, err := s.store.Save(ctx, interfaces.CollectionProgress, rec)
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	s.log.Info("progress saved",
		"user_id", rec.UserID,
		"story_id", rec.StoryID,
		"points", rec.PointsAwarded,
		"completed", rec.Completed,
	)

	msg := "Keep trying, you can do even better"
	if rec.Completed {
		msg = "Congratulations! You completed the story"
	}
	return &SaveResult{
		ProgressID:     id,
		PointsAwarded:  rec.PointsAwarded,
		Completed:      rec.Completed,
		PercentCorrect: rec.PercentCorrect,
		Message:        msg,
	}, nil
}

// Overview returns recent records with statistics and a level recommendation.
// Store failures degrade to an empty overview.
func (s *Service) Overview(ctx context.Context, userID string, limit int) (*Overview, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "is required"}
	}

	records, err := s.records(ctx, userID, clampLimit(limit, DefaultProgressLimit))
	if err != nil {
		s.log.Warn("progress lookup failed, returning empty overview", "user_id", userID, "error", err)
		return &Overview{
			Records:    []models.UserProgressRecord{},
			Evaluation: Evaluation{Message: "Complete a few stories to get started"},
		}, nil
	}

	user, err := s.profile(ctx, userID)
	if err != nil {
		s.log.Warn("profile lookup failed", "user_id", userID, "error", err)
	}
	current := models.LevelBasic
	if user != nil && user.RecommendedLevel.Valid() {
		current = user.RecommendedLevel
	}

	return &Overview{
		Records:    records,
		User:       user,
		Evaluation: EvaluateLevel(records, current),
		Statistics: ComputeStatistics(records),
	}, nil
}

// History returns the user's stories, newest first
func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.Story, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "is required"}
	}

	docs, err := s.store.Query(ctx, interfaces.CollectionStories, interfaces.Where("userId", userID), interfaces.NewestFirst, clampLimit(limit, DefaultHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	stories := make([]models.Story, 0, len(docs))
	for _, doc := range docs {
		var story models.Story
		if err := doc.Decode(&story); err != nil {
			s.log.Warn("skipping undecodable story", "story_id", doc.ID, "error", err)
			continue
		}
		story.ID = doc.ID
		stories = append(stories, story)
	}
	return stories, nil
}

// RegisterUser creates a reader profile with a level recommended by age
func (s *Service) RegisterUser(ctx context.Context, name string, age int) (*models.UserProfile, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	if err := ValidateAge(age); err != nil {
		return nil, err
	}

	profile := &models.UserProfile{
		UserID:           uuid.NewString(),
		Name:             clean,
		Age:              age,
		RecommendedLevel: LevelForAge(age),
		CreatedAt:        s.now().UTC(),
	}
	id, err := s.store.Save(ctx, interfaces.CollectionUsers, profile)
	if err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	profile.ID = id

	s.log.Info("user registered", "user_id", profile.UserID, "level", profile.RecommendedLevel)
	return profile, nil
}

// CurrentLevel is the level from the user's latest profile, basic when unknown
func (s *Service) CurrentLevel(ctx context.Context, userID string) models.Level {
	user, err := s.profile(ctx, userID)
	if err != nil || user == nil || !user.RecommendedLevel.Valid() {
		return models.LevelBasic
	}
	return user.RecommendedLevel
}

func (s *Service) records(ctx context.Context, userID string, limit int) ([]models.UserProgressRecord, error) {
	docs, err := s.store.Query(ctx, interfaces.CollectionProgress, interfaces.Where("userId", userID), interfaces.NewestFirst, limit)
	if err != nil {
		return nil, err
	}
	records := make([]models.UserProgressRecord, 0, len(docs))
	for _, doc := range docs {
		var rec models.UserProgressRecord
		if err := doc.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode progress %s: %w", doc.ID, err)
		}
		rec.ID = doc.ID
		records = append(records, rec)
	}
	return records, nil
}

func (s *Service) profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	docs, err := s.store.Query(ctx, interfaces.CollectionUsers, interfaces.Where("userId", userID), interfaces.NewestFirst, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var user models.UserProfile
	if err := docs[0].Decode(&user); err != nil {
		return nil, err
	}
	user.ID = docs[0].ID
	return &user, nil
}

func validateSave(in *SaveInput) (models.Level, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.StoryID = strings.TrimSpace(in.StoryID)
	in.Topic = strings.TrimSpace(in.Topic)
	if in.UserID == "" || in.StoryID == "" || in.Level == "" {
		return "", &ValidationError{Reason: "userId, storyId and level are required"}
	}
	level, ok := models.ParseLevel(in.Level)
	if !ok {
		return "", &ValidationError{Field: "level", Reason: fmt.Sprintf("must be one of %v", models.Levels)}
	}
	if in.Total <= 0 {
		return "", &ValidationError{Field: "total", Reason: "must be greater than zero"}
	}
	if in.Correct < 0 || in.Incorrect < 0 || in.Correct+in.Incorrect > in.Total {
		return "", &ValidationError{Reason: "invalid answer counts"}
	}
	if in.ElapsedSeconds < 0 {
		in.ElapsedSeconds = 0
	}
	return level, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

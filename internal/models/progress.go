package models

import "time"

// UserProgressRecord is the append-only result of one reading session
type UserProgressRecord struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"userId"`
	StoryID        string    `json:"storyId"`
	Level          Level     `json:"level"`
	Topic          string    `json:"topic,omitempty"`
	CorrectCount   int       `json:"correct"`
	IncorrectCount int       `json:"incorrect"`
	TotalQuestions int       `json:"total"`
	PercentCorrect int       `json:"percentCorrect"`
	PointsAwarded  int       `json:"pointsAwarded"`
	Completed      bool      `json:"completed"`
	ElapsedSeconds int       `json:"elapsedSeconds,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserProfile is a registered reader
type UserProfile struct {
	ID               string    `json:"id,omitempty"`
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	Age              int       `json:"age"`
	RecommendedLevel Level     `json:"recommendedLevel"`
	CreatedAt        time.Time `json:"createdAt"`
}

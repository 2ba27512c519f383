package progress

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/choco2105/magic-reading/internal/models"
)

const (
	completionPercent = 60
	levelUpWindow     = 5
	levelUpAverage    = 0.85
	minAge            = 6
	maxAge            = 12
	maxNameRunes      = 50
)

// Points awards round(round(percent) * multiplier) for a finished quiz
func Points(correct, total int, level models.Level) int {
	if total <= 0 {
		return 0
	}
	base := math.Round(float64(correct) / float64(total) * 100)
	return int(math.Round(base * level.PointsMultiplier()))
}

// IsCompleted reports whether at least 60% of the answers were correct
func IsCompleted(correct, total int) bool {
	return total > 0 && correct*100 >= completionPercent*total
}

// PercentCorrect is the rounded share of correct answers
func PercentCorrect(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// Statistics summarizes a user's progress records
type Statistics struct {
	TotalStories     int `json:"totalStories"`
	AverageCorrect   int `json:"averageCorrect"`
	TotalPoints      int `json:"totalPoints"`
	CompletedStories int `json:"completedStories"`
	BestStreak       int `json:"bestStreak"`
}

// ComputeStatistics aggregates records; BestStreak is the longest run of
// consecutive completed records.
func ComputeStatistics(records []models.UserProgressRecord) Statistics {
	var (
		s       Statistics
		ratios  float64
		current int
	)
	s.TotalStories = len(records)
	for _, r := range records {
		s.TotalPoints += r.PointsAwarded
		if r.TotalQuestions > 0 {
			ratios += float64(r.CorrectCount) / float64(r.TotalQuestions)
		}
		if r.Completed {
			s.CompletedStories++
			current++
			s.BestStreak = max(s.BestStreak, current)
		} else {
			current = 0
		}
	}
	if s.TotalStories > 0 {
		s.AverageCorrect = int(math.Round(ratios / float64(s.TotalStories) * 100))
	}
	return s
}

// Evaluation is the level-up recommendation shown with the progress overview
type Evaluation struct {
	ShouldLevelUp bool         `json:"shouldLevelUp"`
	NextLevel     models.Level `json:"nextLevel,omitempty"`
	Average       int          `json:"average,omitempty"`
	Message       string       `json:"message"`
}

// EvaluateLevel looks at the latest five records of the current level (records
// are newest first) and recommends the next level at an 85% average.
func EvaluateLevel(records []models.UserProgressRecord, current models.Level) Evaluation {
	if len(records) < levelUpWindow {
		return Evaluation{Message: "Complete at least 5 stories to evaluate your progress"}
	}

	window := make([]models.UserProgressRecord, 0, levelUpWindow)
	for _, r := range records {
		if r.Level == current {
			window = append(window, r)
			if len(window) == levelUpWindow {
				break
			}
		}
	}
	if len(window) < levelUpWindow {
		return Evaluation{Message: "Keep practicing at this level"}
	}

	var sum float64
	for _, r := range window {
		if r.TotalQuestions > 0 {
			sum += float64(r.CorrectCount) / float64(r.TotalQuestions)
		}
	}
	avg := sum / float64(len(window))
	pct := int(math.Round(avg * 100))

	if avg < levelUpAverage {
		return Evaluation{Average: pct, Message: fmt.Sprintf("Keep practicing. You have %d%% correct answers", pct)}
	}
	next, ok := current.Next()
	if !ok {
		return Evaluation{Average: pct, Message: "Congratulations! You are already at the highest level"}
	}
	return Evaluation{
		ShouldLevelUp: true,
		NextLevel:     next,
		Average:       pct,
		Message:       fmt.Sprintf("Excellent work! You have %d%% correct answers. Do you want to try the %s level?", pct, next),
	}
}

// ValidateAge accepts readers aged 6 to 12
func ValidateAge(age int) error {
	switch {
	case age < minAge:
		return &ValidationError{Field: "age", Reason: "Magic Reading is for children aged 6 and up"}
	case age > maxAge:
		return &ValidationError{Field: "age", Reason: "Magic Reading is designed for children up to 12 years old"}
	}
	return nil
}

// LevelForAge recommends a starting level
func LevelForAge(age int) models.Level {
	switch {
	case age <= 8:
		return models.LevelBasic
	case age <= 10:
		return models.LevelIntermediate
	}
	return models.LevelAdvanced
}

// SanitizeName keeps letters and spaces and caps the length
func SanitizeName(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(name) {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) {
			continue
		}
		if n == maxNameRunes {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

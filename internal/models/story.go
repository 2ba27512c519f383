package models

import (
	"strings"
	"time"
)

// Level is the reading difficulty of a story
type Level string

const (
	LevelBasic        Level = "basic"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Levels lists the levels from easiest to hardest
var Levels = []Level{LevelBasic, LevelIntermediate, LevelAdvanced}

// ParseLevel accepts the canonical names and the Spanish aliases used by older clients
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic", "basico", "básico":
		return LevelBasic, true
	case "intermediate", "intermedio":
		return LevelIntermediate, true
	case "advanced", "avanzado":
		return LevelAdvanced, true
	}
	return "", false
}

// Valid reports whether l is one of the known levels
func (l Level) Valid() bool {
	switch l {
	case LevelBasic, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// RequiredQuestions is the number of comprehension questions a story of this level carries
func (l Level) RequiredQuestions() int {
	switch l {
	case LevelIntermediate:
		return 4
	case LevelAdvanced:
		return 5
	default:
		return 3
	}
}

// WordsPerParagraph is the approximate paragraph length requested from the text backend
func (l Level) WordsPerParagraph() int {
	switch l {
	case LevelIntermediate:
		return 60
	case LevelAdvanced:
		return 80
	default:
		return 40
	}
}

// PointsMultiplier scales progress points by difficulty
func (l Level) PointsMultiplier() float64 {
	switch l {
	case LevelIntermediate:
		return 1.5
	case LevelAdvanced:
		return 2
	default:
		return 1
	}
}

// Next returns the level above l; ok is false at the top
func (l Level) Next() (Level, bool) {
	for i, lv := range Levels {
		if lv == l && i+1 < len(Levels) {
			return Levels[i+1], true
		}
	}
	return l, false
}

// Moment is a narrative position inside a story
type Moment string

const (
	MomentOpening Moment = "opening"
	MomentRising  Moment = "rising"
	MomentClosing Moment = "closing"
)

// Moments is the fixed narrative order
var Moments = []Moment{MomentOpening, MomentRising, MomentClosing}

// ParseMoment maps loose backend labels onto a moment
func ParseMoment(s string) (Moment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opening", "inicio", "start", "beginning":
		return MomentOpening, true
	case "rising", "desarrollo", "middle", "development":
		return MomentRising, true
	case "closing", "final", "end", "ending":
		return MomentClosing, true
	}
	return "", false
}

// Index returns the position of m in Moments, or -1
func (m Moment) Index() int {
	for i, mm := range Moments {
		if mm == m {
			return i
		}
	}
	return -1
}

// Character roles
const (
	RoleProtagonist = "protagonist"
	RoleSecondary   = "secondary"
)

// Visual types a protagonist may take
const (
	VisualBoy  = "boy"
	VisualGirl = "girl"
)

// GenerationRequest is the input of one story run
type GenerationRequest struct {
	Level  Level  `json:"level"`
	Topic  string `json:"topic,omitempty"`
	UserID string `json:"userId"`
	// RecentTitles are titles the user has already read; the backend is asked to avoid them
	RecentTitles []string `json:"-"`
}

// CharacterProfile describes one character of a story
type CharacterProfile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Role        string `json:"role"`
	VisualType  string `json:"visualType"`
	Emoji       string `json:"emoji,omitempty"`
}

// IsHuman reports whether the visual type is a child
func (c CharacterProfile) IsHuman() bool {
	return c.VisualType == VisualBoy || c.VisualType == VisualGirl
}

// StoryQuestion is a four-option comprehension question
type StoryQuestion struct {
	PromptText         string    `json:"question"`
	Options            [4]string `json:"options"`
	CorrectOptionIndex int       `json:"correctIndex"`
	Explanation        string    `json:"explanation"`
}

// IllustrationBeat is a request for one image
type IllustrationBeat struct {
	Prompt  string `json:"prompt"`
	Caption string `json:"caption"`
	Moment  Moment `json:"moment"`
}

// GeneratedImage is an acquired illustration
type GeneratedImage struct {
	URL       string  `json:"url"`
	AltText   string  `json:"alt"`
	Moment    Moment  `json:"moment"`
	Provider  string  `json:"provider"`
	Cost      float64 `json:"cost"`
	Author    string  `json:"author,omitempty"`
	AuthorURL string  `json:"authorUrl,omitempty"`
}

// GenerationMetadata records how a story was produced
type GenerationMetadata struct {
	Backend          string    `json:"backend"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	LatencyMillis    int64     `json:"latencyMs"`
	GeneratedAt      time.Time `json:"generatedAt"`
	Paragraphs       int       `json:"paragraphs"`
	Corrections      []string  `json:"corrections,omitempty"`
}

// Story is the unit of content shown to a child
type Story struct {
	ID                       string             `json:"id,omitempty"`
	UserID                   string             `json:"userId"`
	Title                    string             `json:"title"`
	Body                     string             `json:"body"`
	Level                    Level              `json:"level"`
	Topic                    string             `json:"topic"`
	Characters               []CharacterProfile `json:"characters"`
	Questions                []StoryQuestion    `json:"questions"`
	Beats                    []IllustrationBeat `json:"beats"`
	Images                   []GeneratedImage   `json:"images"`
	EstimatedDurationMinutes int                `json:"estimatedDurationMinutes"`
	Metadata                 GenerationMetadata `json:"metadata"`
	IllustrationCost         float64            `json:"illustrationCost"`
	CreatedAt                time.Time          `json:"createdAt"`
}

// Paragraphs splits the body on the canonical separator
func (s *Story) Paragraphs() []string {
	if s.Body == "" {
		return nil
	}
	return strings.Split(s.Body, "\n\n")
}

// Protagonist returns the protagonist profile, if any
func (s *Story) Protagonist() (CharacterProfile, bool) {
	for _, c := range s.Characters {
		if c.Role == RoleProtagonist {
			return c, true
		}
	}
	return CharacterProfile{}, false
}

package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/choco2105/magic-reading/internal/models"
)

// RawGenerationOutput is the backend's answer before validation. Every field is
// optional and loosely typed; nothing downstream reads it except the Validator.
type RawGenerationOutput struct {
	Title      string
	Body       string
	Characters []RawCharacter
	Questions  []RawQuestion
	Beats      []RawBeat
}

type RawCharacter struct {
	Name        string
	Description string
	Role        string
	VisualType  string
	Emoji       string
}

type RawQuestion struct {
	Prompt       string
	Options      []any
	CorrectIndex any
	Explanation  string
}

type RawBeat struct {
	Moment  string
	Prompt  string
	Caption string
}

var fenceRegex = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*(.*?)\\s*```\\s*$")

// StripCodeFences removes a surrounding Markdown code block, if any
func StripCodeFences(text string) string {
	if m := fenceRegex.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}

// ParseRawOutput decodes a backend completion into a RawGenerationOutput.
// Unknown keys are ignored; known keys with the wrong shape are treated as absent.
func ParseRawOutput(text string) (*RawGenerationOutput, error) {
	cleaned := StripCodeFences(text)
	if cleaned == "" {
		return nil, fmt.Errorf("empty completion")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}

	raw := &RawGenerationOutput{
		Title: firstString(doc, "title", "titulo"),
		Body:  bodyText(doc),
	}

	for _, item := range firstList(doc, "characters", "personajes") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw.Characters = append(raw.Characters, RawCharacter{
			Name:        firstString(m, "name", "nombre"),
			Description: firstString(m, "description", "descripcion"),
			Role:        firstString(m, "role", "rol", "tipo"),
			VisualType:  firstString(m, "visualType", "visual_type", "tipoVisual"),
			Emoji:       firstString(m, "emoji"),
		})
	}

	for _, item := range firstList(doc, "questions", "preguntas") {
		m, ok := item.(map[string]any)
		if !ok {
			// keep the slot so the question count is preserved
			raw.Questions = append(raw.Questions, RawQuestion{})
			continue
		}
		opts, _ := firstValue(m, "options", "opciones").([]any)
		raw.Questions = append(raw.Questions, RawQuestion{
			Prompt:       firstString(m, "question", "pregunta", "prompt"),
			Options:      opts,
			CorrectIndex: firstValue(m, "correctIndex", "correct_index", "respuestaCorrecta", "answer"),
			Explanation:  firstString(m, "explanation", "explicacion"),
		})
	}

	for _, item := range firstList(doc, "illustrations", "images", "imagenes") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw.Beats = append(raw.Beats, RawBeat{
			Moment:  firstString(m, "moment", "momento"),
			Prompt:  firstString(m, "prompt", "description", "descripcion"),
			Caption: firstString(m, "caption", "texto"),
		})
	}

	return raw, nil
}

// RawFromStory converts a validated story back into raw form
func RawFromStory(s *models.Story) *RawGenerationOutput {
	raw := &RawGenerationOutput{Title: s.Title, Body: s.Body}
	for _, c := range s.Characters {
		raw.Characters = append(raw.Characters, RawCharacter(c))
	}
	for _, q := range s.Questions {
		opts := make([]any, len(q.Options))
		for i, o := range q.Options {
			opts[i] = o
		}
		raw.Questions = append(raw.Questions, RawQuestion{
			Prompt:       q.PromptText,
			Options:      opts,
			CorrectIndex: float64(q.CorrectOptionIndex),
			Explanation:  q.Explanation,
		})
	}
	for _, b := range s.Beats {
		raw.Beats = append(raw.Beats, RawBeat{Moment: string(b.Moment), Prompt: b.Prompt, Caption: b.Caption})
	}
	return raw
}

func bodyText(doc map[string]any) string {
	v := firstValue(doc, "body", "content", "contenido", "paragraphs", "parrafos")
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, "\n\n")
	}
	return ""
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	switch t := firstValue(m, keys...).(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func firstList(m map[string]any, keys ...string) []any {
	l, _ := firstValue(m, keys...).([]any)
	return l
}

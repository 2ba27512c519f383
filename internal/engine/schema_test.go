package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choco2105/magic-reading/internal/models"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

func sentences(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence number %d happened.", i+1)
	}
	return strings.Join(parts, " ")
}

func rawQuestions(n int) []RawQuestion {
	out := make([]RawQuestion, n)
	for i := range out {
		out[i] = RawQuestion{
			Prompt:       fmt.Sprintf("What happened in part %d?", i+1),
			Options:      []any{"a", "b", "c", "d"},
			CorrectIndex: float64(i % 4),
			Explanation:  "Because the story says so.",
		}
	}
	return out
}

func validRaw() *RawGenerationOutput {
	return &RawGenerationOutput{
		Title: "Emma and the Lost Kite",
		Body:  "Emma found a kite. It was red.\n\nShe ran with Toby! The wind was strong.\n\nThey flew it together. Everyone cheered.",
		Characters: []RawCharacter{
			{Name: "Emma", Description: "A brave girl", Role: "protagonist", VisualType: "girl", Emoji: "👧"},
			{Name: "Toby", Description: "A playful puppy", Role: "secondary", VisualType: "dog", Emoji: "🐶"},
		},
		Questions: rawQuestions(3),
		Beats: []RawBeat{
			{Moment: "opening", Prompt: "a young girl finding a red kite in a park", Caption: "A red kite"},
			{Moment: "rising", Prompt: "a young girl and a small dog running in the wind", Caption: "Running"},
			{Moment: "closing", Prompt: "a kite flying high over happy children", Caption: "Flying high"},
		},
	}
}

func newTestValidator() *Validator {
	return NewValidator(fixedRand(0), nil)
}

func TestValidateAcceptsValidDraft(t *testing.T) {
	story, report, err := newTestValidator().Validate(validRaw(), models.LevelBasic)
	require.NoError(t, err)

	assert.False(t, report.Changed(), "corrections: %v", report.Corrections)
	assert.Len(t, story.Paragraphs(), 3)
	assert.Len(t, story.Questions, 3)
	assert.Len(t, story.Beats, 3)
	assert.Equal(t, models.LevelBasic, story.Level)
}

func TestValidateIsIdempotent(t *testing.T) {
	v := newTestValidator()
	raw := validRaw()
	raw.Body = sentences(12)
	raw.Characters = nil
	raw.Beats = raw.Beats[:1]
	raw.Questions = rawQuestions(5)
	raw.Questions[0].Options = []any{"only one"}

	first, report, err := v.Validate(raw, models.LevelIntermediate)
	require.NoError(t, err)
	require.True(t, report.Changed())

	second, report2, err := v.Validate(RawFromStory(first), models.LevelIntermediate)
	require.NoError(t, err)
	assert.False(t, report2.Changed(), "corrections: %v", report2.Corrections)
	assert.Equal(t, first, second)
}

func TestValidateSplitsRunOnParagraph(t *testing.T) {
	tests := []struct {
		name      string
		sentences int
		sizes     []int
	}{
		{"twelve", 12, []int{4, 4, 4}},
		{"six", 6, []int{2, 2, 2}},
		{"seven", 7, []int{3, 2, 2}},
		{"eight", 8, []int{3, 3, 2}},
		{"three", 3, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw.Body = sentences(tt.sentences)

			story, report, err := newTestValidator().Validate(raw, models.LevelBasic)
			require.NoError(t, err)
			assert.True(t, report.Changed())

			paragraphs := story.Paragraphs()
			require.Len(t, paragraphs, 3)
			for i, p := range paragraphs {
				assert.Len(t, SplitSentences(p), tt.sizes[i], "paragraph %d", i)
			}
			assert.Equal(t, sentences(tt.sentences), strings.Join(paragraphs, " "), "no text lost")
		})
	}
}

func TestValidateKeepsShortSingleParagraph(t *testing.T) {
	raw := validRaw()
	raw.Body = "Once upon a time. The end"

	story, report, err := newTestValidator().Validate(raw, models.LevelBasic)
	require.NoError(t, err)
	assert.Len(t, story.Paragraphs(), 1)
	assert.Contains(t, report.Corrections[0], "irregular")
}

func TestValidateTwoParagraphs(t *testing.T) {
	t.Run("splits longer", func(t *testing.T) {
		raw := validRaw()
		raw.Body = "Short one.\n\nOne. Two. Three. Four. Five."

		story, _, err := newTestValidator().Validate(raw, models.LevelBasic)
		require.NoError(t, err)
		assert.Equal(t, []string{"Short one.", "One. Two. Three.", "Four. Five."}, story.Paragraphs())
	})
	t.Run("tie splits first", func(t *testing.T) {
		raw := validRaw()
		raw.Body = "A. B.\n\nC. D."

		story, _, err := newTestValidator().Validate(raw, models.LevelBasic)
		require.NoError(t, err)
		assert.Equal(t, []string{"A.", "B.", "C. D."}, story.Paragraphs())
	})
	t.Run("irregular when unsplittable", func(t *testing.T) {
		raw := validRaw()
		raw.Body = "Only one sentence here.\n\nAnd another one."

		story, _, err := newTestValidator().Validate(raw, models.LevelBasic)
		require.NoError(t, err)
		assert.Len(t, story.Paragraphs(), 2)
	})
}

func TestValidateTruncatesExtraParagraphs(t *testing.T) {
	raw := validRaw()
	raw.Body = "One.\n\nTwo.\n  \nThree.\n\nFour.\n\nFive."

	story, report, err := newTestValidator().Validate(raw, models.LevelBasic)
	require.NoError(t, err)
	assert.Equal(t, []string{"One.", "Two.", "Three."}, story.Paragraphs())
	assert.Contains(t, report.Corrections, "truncated body from 5 to 3 paragraphs")
}

func TestValidateFatal(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawGenerationOutput)
	}{
		{"missing title", func(r *RawGenerationOutput) { r.Title = "" }},
		{"missing body", func(r *RawGenerationOutput) { r.Body = "" }},
		{"blank body", func(r *RawGenerationOutput) { r.Body = " \n\n \t" }},
		{"no questions", func(r *RawGenerationOutput) { r.Questions = []RawQuestion{} }},
		{"too few questions", func(r *RawGenerationOutput) { r.Questions = rawQuestions(2) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)

			_, _, err := newTestValidator().Validate(raw, models.LevelBasic)
			var fatal *FatalSchemaError
			assert.True(t, errors.As(err, &fatal), "got %v", err)
		})
	}

	_, _, err := newTestValidator().Validate(nil, models.LevelBasic)
	assert.Error(t, err)
}

func TestValidateQuestionCountByLevel(t *testing.T) {
	for level, want := range map[models.Level]int{
		models.LevelBasic:        3,
		models.LevelIntermediate: 4,
		models.LevelAdvanced:     5,
	} {
		raw := validRaw()
		raw.Questions = rawQuestions(6)

		story, _, err := newTestValidator().Validate(raw, level)
		require.NoError(t, err)
		assert.Len(t, story.Questions, want, "level %s", level)
	}

	raw := validRaw()
	raw.Questions = rawQuestions(4)
	_, _, err := newTestValidator().Validate(raw, models.LevelAdvanced)
	assert.Error(t, err)
}

func TestValidateRepairsQuestions(t *testing.T) {
	raw := validRaw()
	raw.Questions = []RawQuestion{
		{Prompt: "", Options: []any{"x", "y", "z", "w"}, CorrectIndex: float64(2), Explanation: "e"},
		{Prompt: "Q2?", Options: []any{"a", "b", "c"}, CorrectIndex: float64(7), Explanation: ""},
		{Prompt: "Q3?", Options: []any{"a", "b", 3.0, "d"}, CorrectIndex: "2", Explanation: "e"},
	}

	story, _, err := newTestValidator().Validate(raw, models.LevelBasic)
	require.NoError(t, err)
	q := story.Questions

	assert.Equal(t, "Question 1 about the story", q[0].PromptText)
	assert.Equal(t, genericOptions, q[0].Options)
	assert.Equal(t, 2, q[0].CorrectOptionIndex)

	assert.Equal(t, genericOptions, q[1].Options)
	assert.Equal(t, 0, q[1].CorrectOptionIndex)
	assert.Equal(t, defaultExplanation, q[1].Explanation)

	assert.Equal(t, genericOptions, q[2].Options)
	assert.Equal(t, 2, q[2].CorrectOptionIndex)

	for _, sq := range q {
		assert.NotEmpty(t, sq.PromptText)
		assert.NotEmpty(t, sq.Explanation)
		assert.GreaterOrEqual(t, sq.CorrectOptionIndex, 0)
		assert.LessOrEqual(t, sq.CorrectOptionIndex, 3)
		for _, o := range sq.Options {
			assert.NotEmpty(t, o)
		}
	}
}

func TestOptionIndex(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{float64(0), 0, true},
		{float64(3), 3, true},
		{float64(1.5), 0, false},
		{float64(-1), 0, false},
		{4, 0, false},
		{"1", 1, true},
		{"b", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := optionIndex(tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
	}
}

func TestValidateSynthesizesCharacters(t *testing.T) {
	raw := validRaw()
	raw.Characters = nil

	story, _, err := NewValidator(fixedRand(1), nil).ValidateCast(raw, models.LevelBasic, Cast{Protagonist: "Mateo", Companion: "Luna"})
	require.NoError(t, err)

	require.Len(t, story.Characters, 2)
	p, s := story.Characters[0], story.Characters[1]
	assert.Equal(t, "Mateo", p.Name)
	assert.Equal(t, models.RoleProtagonist, p.Role)
	assert.Equal(t, models.VisualGirl, p.VisualType)
	assert.Equal(t, "👧", p.Emoji)
	assert.Equal(t, "Luna", s.Name)
	assert.Equal(t, models.RoleSecondary, s.Role)
	assert.Equal(t, "dog", s.VisualType)
}

func TestValidateInfersVisualTypes(t *testing.T) {
	raw := validRaw()
	raw.Characters = []RawCharacter{
		{Name: "Diego", Role: "protagonista"},
		{Name: "Miel", Role: "secundario", Emoji: "🐰"},
		{Name: "Coco", Role: "secondary"},
		{Name: "Ana", Role: "protagonist", VisualType: "girl"},
	}

	story, _, err := newTestValidator().Validate(raw, models.LevelBasic)
	require.NoError(t, err)

	chars := story.Characters
	require.Len(t, chars, 4)
	assert.Equal(t, models.VisualBoy, chars[0].VisualType)
	assert.Equal(t, "👦", chars[0].Emoji)
	assert.Equal(t, "rabbit", chars[1].VisualType)
	assert.Equal(t, "🐰", chars[1].Emoji)
	assert.Equal(t, "dog", chars[2].VisualType)

	// second protagonist demoted; a human secondary is re-typed as an animal
	assert.Equal(t, models.RoleSecondary, chars[3].Role)
	assert.Equal(t, "dog", chars[3].VisualType)

	protagonists := 0
	for _, c := range chars {
		if c.Role == models.RoleProtagonist {
			protagonists++
			assert.True(t, c.IsHuman())
		}
	}
	assert.Equal(t, 1, protagonists)
}

func TestValidateOrdersAndFillsBeats(t *testing.T) {
	raw := validRaw()
	raw.Beats = []RawBeat{
		{Moment: "final", Prompt: "the end scene", Caption: "End"},
		{Moment: "inicio", Prompt: "the start scene", Caption: "Start"},
	}

	story, _, err := newTestValidator().Validate(raw, models.LevelBasic)
	require.NoError(t, err)

	require.Len(t, story.Beats, 3)
	for i, m := range models.Moments {
		assert.Equal(t, m, story.Beats[i].Moment)
	}
	assert.Equal(t, "the start scene", story.Beats[0].Prompt)
	assert.Equal(t, defaultBeats[models.MomentRising].Prompt, story.Beats[1].Prompt)
	assert.Equal(t, "the end scene", story.Beats[2].Prompt)
}

func TestValidateScrubsNamesFromBeats(t *testing.T) {
	raw := validRaw()
	raw.Beats[0].Prompt = "Emma holds a kite while toby barks; Emmanuel watches"

	story, report, err := newTestValidator().Validate(raw, models.LevelBasic)
	require.NoError(t, err)

	assert.Equal(t, "the girl holds a kite while the dog barks; Emmanuel watches", story.Beats[0].Prompt)
	assert.Contains(t, report.Corrections, "removed character names from opening prompt")
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t,
		[]string{"Hi!", "Is it you?!", `She said "yes."`, "Then left"},
		SplitSentences(`Hi! Is it you?! She said "yes." Then left`))
	assert.Empty(t, SplitSentences("   "))
}

func TestParseRawOutput(t *testing.T) {
	text := "```json\n" + `{
		"titulo": "El viaje",
		"paragraphs": ["Uno.", "Dos.", "Tres."],
		"personajes": [{"nombre": "Sofía", "rol": "protagonista"}],
		"preguntas": [{"pregunta": "¿Qué?", "opciones": ["a","b","c","d"], "respuestaCorrecta": 1, "explicacion": "x"}, "junk"],
		"images": [{"momento": "inicio", "descripcion": "a girl"}]
	}` + "\n```"

	raw, err := ParseRawOutput(text)
	require.NoError(t, err)
	assert.Equal(t, "El viaje", raw.Title)
	assert.Equal(t, "Uno.\n\nDos.\n\nTres.", raw.Body)
	assert.Equal(t, "Sofía", raw.Characters[0].Name)
	require.Len(t, raw.Questions, 2)
	assert.Equal(t, float64(1), raw.Questions[0].CorrectIndex)
	assert.Equal(t, RawQuestion{}, raw.Questions[1])
	assert.Equal(t, "inicio", raw.Beats[0].Moment)

	_, err = ParseRawOutput("I cannot help with that")
	assert.Error(t, err)
	_, err = ParseRawOutput("")
	assert.Error(t, err)
}

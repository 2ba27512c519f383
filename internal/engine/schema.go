package engine

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
)

const (
	targetParagraphs   = 3
	defaultExplanation = "This is the correct answer according to the story."
)

var (
	paragraphSeparator = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	genericOptions     = [4]string{"Option A", "Option B", "Option C", "Option D"}

	// emoji to animal type, first match wins
	animalEmojis = []struct{ emoji, animal string }{
		{"🐶", "dog"}, {"🐕", "dog"},
		{"🐱", "cat"}, {"🐈", "cat"},
		{"🐰", "rabbit"}, {"🐇", "rabbit"},
		{"🐦", "bird"}, {"🦜", "bird"},
		{"🐻", "bear"},
		{"🦊", "fox"},
		{"🐼", "panda"},
		{"🐨", "koala"},
	}

	visualEmojis = map[string]string{
		models.VisualBoy:  "👦",
		models.VisualGirl: "👧",
		"dog":             "🐶",
		"cat":             "🐱",
		"rabbit":          "🐰",
		"bird":            "🐦",
		"bear":            "🐻",
		"fox":             "🦊",
		"panda":           "🐼",
		"koala":           "🐨",
	}

	defaultBeats = map[models.Moment]models.IllustrationBeat{
		models.MomentOpening: {
			Moment:  models.MomentOpening,
			Prompt:  "a cheerful child and a friendly animal companion meeting on a sunny morning in a colorful village",
			Caption: "The adventure begins",
		},
		models.MomentRising: {
			Moment:  models.MomentRising,
			Prompt:  "a brave child and a loyal animal friend facing a small challenge together in a magical forest",
			Caption: "A challenge appears",
		},
		models.MomentClosing: {
			Moment:  models.MomentClosing,
			Prompt:  "a happy child hugging an animal friend under a bright sunset, celebrating together",
			Caption: "A happy ending",
		},
	}
)

// FatalSchemaError means the generation output cannot be repaired into a story
type FatalSchemaError struct {
	Reason string
}

func (e *FatalSchemaError) Error() string {
	return "fatal schema error: " + e.Reason
}

// Report lists every repair applied during validation
type Report struct {
	Corrections []string
}

func (r *Report) add(format string, args ...any) {
	r.Corrections = append(r.Corrections, fmt.Sprintf(format, args...))
}

// Changed reports whether any repair was applied
func (r *Report) Changed() bool {
	return len(r.Corrections) > 0
}

// Cast carries the names the generator asked for, used when characters must be synthesized
type Cast struct {
	Protagonist string
	Companion   string
}

// Randomizer is the source of random choices; *rand.Rand satisfies it
type Randomizer interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// lockedRand serializes calls into an injected source such as *rand.Rand,
// which is not safe for concurrent use.
type lockedRand struct {
	mu  sync.Mutex
	src Randomizer
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(n)
}

// guardRand returns a source that concurrent generations can share
func guardRand(r Randomizer) Randomizer {
	switch r.(type) {
	case nil:
		return globalRand{}
	case globalRand, *lockedRand:
		return r
	}
	return &lockedRand{src: r}
}

// Validator checks raw generation output and repairs recoverable defects
type Validator struct {
	rand Randomizer
	log  *logger.Logger
}

// NewValidator creates a validator; nil arguments select defaults
func NewValidator(rnd Randomizer, log *logger.Logger) *Validator {
	rnd = guardRand(rnd)
	if log == nil {
		log = logger.Nop()
	}
	return &Validator{rand: rnd, log: log.With("component", "schema_validator")}
}

// Validate repairs raw into a story for the given level
func (v *Validator) Validate(raw *RawGenerationOutput, level models.Level) (*models.Story, *Report, error) {
	return v.ValidateCast(raw, level, Cast{})
}

// ValidateCast is Validate with the intended character names for synthesized characters
func (v *Validator) ValidateCast(raw *RawGenerationOutput, level models.Level, cast Cast) (*models.Story, *Report, error) {
	if raw == nil {
		return nil, nil, &FatalSchemaError{Reason: "missing core fields"}
	}
	report := &Report{}

	title := strings.TrimSpace(raw.Title)
	body := strings.TrimSpace(raw.Body)
	if title == "" || body == "" {
		return nil, nil, &FatalSchemaError{Reason: "missing core fields"}
	}

	paragraphs, err := repairParagraphs(body, report)
	if err != nil {
		return nil, nil, err
	}

	questions, err := repairQuestions(raw.Questions, level, report)
	if err != nil {
		return nil, nil, err
	}

	characters := v.repairCharacters(raw.Characters, cast, report)
	beats := repairBeats(raw.Beats, characters, report)

	for _, c := range report.Corrections {
		v.log.Debug("schema correction", "correction", c)
	}
	if report.Changed() {
		v.log.Info("generation output repaired", "corrections", len(report.Corrections))
	}

	return &models.Story{
		Title:      title,
		Body:       strings.Join(paragraphs, "\n\n"),
		Level:      level,
		Characters: characters,
		Questions:  questions,
		Beats:      beats,
	}, report, nil
}

func repairParagraphs(body string, report *Report) ([]string, error) {
	var paragraphs []string
	for _, p := range paragraphSeparator.Split(body, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	switch n := len(paragraphs); {
	case n == 0:
		return nil, &FatalSchemaError{Reason: "body has no paragraphs"}
	case n > targetParagraphs:
		report.add("truncated body from %d to %d paragraphs", n, targetParagraphs)
		return paragraphs[:targetParagraphs], nil
	case n == 2:
		longer := 0
		s0, s1 := SplitSentences(paragraphs[0]), SplitSentences(paragraphs[1])
		sentences := s0
		if len(s1) > len(s0) {
			longer, sentences = 1, s1
		}
		if len(sentences) < 2 {
			report.add("kept irregular 2-paragraph body")
			return paragraphs, nil
		}
		mid := (len(sentences) + 1) / 2
		split := []string{strings.Join(sentences[:mid], " "), strings.Join(sentences[mid:], " ")}
		out := make([]string, 0, targetParagraphs)
		if longer == 0 {
			out = append(out, split...)
			out = append(out, paragraphs[1])
		} else {
			out = append(out, paragraphs[0])
			out = append(out, split...)
		}
		report.add("split paragraph %d to reach %d paragraphs", longer+1, targetParagraphs)
		return out, nil
	case n == 1:
		sentences := SplitSentences(paragraphs[0])
		if len(sentences) < targetParagraphs {
			report.add("kept irregular 1-paragraph body with %d sentences", len(sentences))
			return paragraphs, nil
		}
		report.add("split single paragraph of %d sentences into %d", len(sentences), targetParagraphs)
		return groupSentences(sentences, targetParagraphs), nil
	}
	return paragraphs, nil
}

// groupSentences deals sentences into n groups whose sizes differ by at most one,
// with the larger groups first
func groupSentences(sentences []string, n int) []string {
	base, extra := len(sentences)/n, len(sentences)%n
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, strings.Join(sentences[start:start+size], " "))
		start += size
	}
	return out
}

// SplitSentences breaks text into sentences ending in '.', '!' or '?'.
// Runs of terminators and closing quotes stay with their sentence; an
// unterminated tail counts as one more sentence.
func SplitSentences(text string) []string {
	var (
		out   []string
		runes = []rune(text)
		start = 0
	)
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isClosing(runes[j])) {
			j++
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', '”', '’', '»':
		return true
	}
	return false
}

func repairQuestions(raw []RawQuestion, level models.Level, report *Report) ([]models.StoryQuestion, error) {
	required := level.RequiredQuestions()
	if len(raw) < required {
		return nil, &FatalSchemaError{Reason: fmt.Sprintf("need %d questions for level %s, got %d", required, level, len(raw))}
	}
	if len(raw) > required {
		report.add("truncated questions from %d to %d", len(raw), required)
		raw = raw[:required]
	}

	out := make([]models.StoryQuestion, 0, required)
	for i, rq := range raw {
		q := models.StoryQuestion{
			PromptText:  strings.TrimSpace(rq.Prompt),
			Explanation: strings.TrimSpace(rq.Explanation),
		}

		opts, optsOK := fourOptions(rq.Options)
		if q.PromptText == "" {
			q.PromptText = fmt.Sprintf("Question %d about the story", i+1)
			opts, optsOK = genericOptions, true
			report.add("question %d: synthesized prompt and options", i+1)
		}
		if !optsOK {
			opts = genericOptions
			report.add("question %d: replaced invalid options", i+1)
		}
		q.Options = opts

		idx, ok := optionIndex(rq.CorrectIndex)
		if !ok {
			report.add("question %d: correct index reset to 0", i+1)
		}
		q.CorrectOptionIndex = idx

		if q.Explanation == "" {
			q.Explanation = defaultExplanation
			report.add("question %d: default explanation", i+1)
		}
		out = append(out, q)
	}
	return out, nil
}

func fourOptions(raw []any) ([4]string, bool) {
	var out [4]string
	if len(raw) != 4 {
		return out, false
	}
	for i, o := range raw {
		s, ok := o.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return out, false
		}
		out[i] = strings.TrimSpace(s)
	}
	return out, true
}

func optionIndex(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		f = float64(n)
	default:
		return 0, false
	}
	if f != math.Trunc(f) || f < 0 || f > 3 {
		return 0, false
	}
	return int(f), true
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "protagonist", "protagonista", "main", "hero", "principal":
		return models.RoleProtagonist
	case "secondary", "secundario", "secundaria", "companion", "friend", "sidekick":
		return models.RoleSecondary
	}
	return ""
}

func (v *Validator) repairCharacters(raw []RawCharacter, cast Cast, report *Report) []models.CharacterProfile {
	protagonistName := firstNonEmpty(cast.Protagonist, "Alex")
	companionName := firstNonEmpty(cast.Companion, "Buddy")

	chars := make([]models.CharacterProfile, 0, len(raw)+1)
	for _, rc := range raw {
		c := models.CharacterProfile{
			Name:        strings.TrimSpace(rc.Name),
			Description: strings.TrimSpace(rc.Description),
			Role:        normalizeRole(rc.Role),
			VisualType:  strings.ToLower(strings.TrimSpace(rc.VisualType)),
			Emoji:       strings.TrimSpace(rc.Emoji),
		}
		if c.Name == "" && c.Description == "" {
			report.add("dropped empty character")
			continue
		}
		if c.Role == "" {
			if c.IsHuman() {
				c.Role = models.RoleProtagonist
			} else {
				c.Role = models.RoleSecondary
			}
			report.add("character %q: inferred role %s", c.Name, c.Role)
		}
		chars = append(chars, c)
	}

	if len(chars) < 2 {
		report.add("fewer than 2 characters")
	}

	// exactly one protagonist
	protagonist := -1
	for i := range chars {
		if chars[i].Role != models.RoleProtagonist {
			continue
		}
		if protagonist >= 0 {
			chars[i].Role = models.RoleSecondary
			report.add("character %q: demoted to secondary", chars[i].Name)
			continue
		}
		protagonist = i
	}
	if protagonist < 0 {
		for i := range chars {
			if chars[i].VisualType == "" || chars[i].IsHuman() {
				chars[i].Role = models.RoleProtagonist
				protagonist = i
				report.add("character %q: promoted to protagonist", chars[i].Name)
				break
			}
		}
	}
	if protagonist < 0 {
		chars = append([]models.CharacterProfile{{
			Name:        protagonistName,
			Description: "A curious and kind child",
			Role:        models.RoleProtagonist,
		}}, chars...)
		report.add("synthesized protagonist %q", protagonistName)
	}

	// at least one secondary
	hasSecondary := false
	for _, c := range chars {
		if c.Role == models.RoleSecondary {
			hasSecondary = true
			break
		}
	}
	if !hasSecondary {
		chars = append(chars, models.CharacterProfile{
			Name:        companionName,
			Description: "A loyal animal friend",
			Role:        models.RoleSecondary,
		})
		report.add("synthesized secondary %q", companionName)
	}

	for i := range chars {
		v.repairVisual(&chars[i], report)
		if chars[i].Name == "" {
			if chars[i].Role == models.RoleProtagonist {
				chars[i].Name = protagonistName
			} else {
				chars[i].Name = companionName
			}
			report.add("character %d: default name %q", i+1, chars[i].Name)
		}
	}
	return chars
}

func (v *Validator) repairVisual(c *models.CharacterProfile, report *Report) {
	switch c.Role {
	case models.RoleProtagonist:
		if !c.IsHuman() {
			if v.rand.IntN(2) == 0 {
				c.VisualType = models.VisualBoy
			} else {
				c.VisualType = models.VisualGirl
			}
			c.Emoji = visualEmojis[c.VisualType]
			report.add("character %q: visual type %s", c.Name, c.VisualType)
		}
	default:
		if c.VisualType == "" || c.IsHuman() {
			animal, matched := animalFromEmoji(c.Emoji)
			c.VisualType = animal
			if !matched {
				c.Emoji = visualEmojis[animal]
			}
			report.add("character %q: visual type %s", c.Name, c.VisualType)
		}
	}
	if c.Emoji == "" {
		if e, ok := visualEmojis[c.VisualType]; ok {
			c.Emoji = e
		} else {
			c.Emoji = "🐾"
		}
		report.add("character %q: default emoji", c.Name)
	}
}

func animalFromEmoji(emoji string) (string, bool) {
	for _, e := range animalEmojis {
		if strings.Contains(emoji, e.emoji) {
			return e.animal, true
		}
	}
	return "dog", false
}

func repairBeats(raw []RawBeat, characters []models.CharacterProfile, report *Report) []models.IllustrationBeat {
	if len(raw) < len(models.Moments) {
		report.add("only %d illustration beats", len(raw))
	}

	assigned := make(map[models.Moment]models.IllustrationBeat, len(models.Moments))
	var unlabelled []RawBeat
	for _, rb := range raw {
		m, ok := models.ParseMoment(rb.Moment)
		if _, taken := assigned[m]; !ok || taken {
			unlabelled = append(unlabelled, rb)
			continue
		}
		assigned[m] = models.IllustrationBeat{Moment: m, Prompt: strings.TrimSpace(rb.Prompt), Caption: strings.TrimSpace(rb.Caption)}
	}
	for _, m := range models.Moments {
		if _, ok := assigned[m]; ok || len(unlabelled) == 0 {
			continue
		}
		rb := unlabelled[0]
		unlabelled = unlabelled[1:]
		assigned[m] = models.IllustrationBeat{Moment: m, Prompt: strings.TrimSpace(rb.Prompt), Caption: strings.TrimSpace(rb.Caption)}
		report.add("beat for %s assigned by position", m)
	}

	out := make([]models.IllustrationBeat, 0, len(models.Moments))
	for _, m := range models.Moments {
		b, ok := assigned[m]
		if !ok {
			b = defaultBeats[m]
			report.add("synthesized beat for %s", m)
		}
		if b.Prompt == "" {
			b.Prompt = defaultBeats[m].Prompt
			report.add("default prompt for %s", m)
		}
		if b.Caption == "" {
			b.Caption = defaultBeats[m].Caption
			report.add("default caption for %s", m)
		}
		if scrubbed := scrubNames(b.Prompt, characters); scrubbed != b.Prompt {
			b.Prompt = scrubbed
			report.add("removed character names from %s prompt", m)
		}
		out = append(out, b)
	}
	return out
}

// scrubNames replaces character names in an image prompt with generic descriptors
func scrubNames(prompt string, characters []models.CharacterProfile) string {
	for _, c := range characters {
		if c.Name == "" {
			continue
		}
		prompt = replaceWord(prompt, c.Name, "the "+c.VisualType)
	}
	return prompt
}

// replaceWord replaces whole-word, case-insensitive occurrences of word
func replaceWord(text, word, repl string) string {
	lowerText, lowerWord := strings.ToLower(text), strings.ToLower(word)
	if len(lowerText) != len(text) || len(lowerWord) != len(word) {
		// case folding changed byte lengths; fall back to exact matching
		lowerText, lowerWord = text, word
	}

	var b strings.Builder
	i := 0
	for {
		j := strings.Index(lowerText[i:], lowerWord)
		if j < 0 {
			b.WriteString(text[i:])
			return b.String()
		}
		j += i
		end := j + len(word)
		before, _ := utf8.DecodeLastRuneInString(text[:j])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(before) && !isWordRune(after) {
			b.WriteString(text[i:j])
			b.WriteString(repl)
		} else {
			b.WriteString(text[i:end])
		}
		i = end
	}
}

// isWordRune is false for utf8.RuneError, which Decode returns on empty input
func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

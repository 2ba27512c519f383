package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
	"github.com/choco2105/magic-reading/internal/prompts"
)

// EstimatedDurationMinutes is fixed: every story is read as three screens
const EstimatedDurationMinutes = 3

const defaultGenerateTimeout = 60 * time.Second

// NameBank holds the read-only pools the generator draws from
type NameBank struct {
	Protagonists []string
	Companions   []string
	Topics       []string
}

// DefaultNameBank returns the built-in pools
func DefaultNameBank() NameBank {
	return NameBank{
		Protagonists: []string{
			"Sofía", "Miguel", "Valentina", "Diego", "Emma", "Mateo",
			"Lucía", "Santiago", "Isabella", "Nicolás", "Martina", "Gabriel",
			"Camila", "Daniel", "Victoria", "Alejandro", "María", "Sebastián",
		},
		Companions: []string{
			"Estrella", "Max", "Luna", "Toby", "Nieve", "Bruno",
			"Chispa", "Rocky", "Perla", "Coco", "Miel", "Simba",
		},
		Topics: []string{
			"friendship", "caring for nature", "courage", "sharing", "honesty",
			"family", "respecting differences", "teamwork", "curiosity and discovery",
			"kindness to animals", "overcoming fears", "gratitude", "patience",
			"responsibility", "imagination",
		},
	}
}

// GeneratorOptions configures a Generator; zero values select defaults
type GeneratorOptions struct {
	Validator   *Validator
	Templates   *prompts.TemplateEngine
	Names       NameBank
	Rand        Randomizer
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Logger      *logger.Logger
}

// Generator produces one validated story per call. It never retries.
type Generator struct {
	backend   interfaces.TextBackend
	validator *Validator
	templates *prompts.TemplateEngine
	names     NameBank
	rand      Randomizer
	timeout   time.Duration
	maxTokens int
	temp      float64
	log       *logger.Logger
	now       func() time.Time
}

// NewGenerator creates a story generator over a text backend
func NewGenerator(backend interfaces.TextBackend, opts GeneratorOptions) *Generator {
	g := &Generator{
		backend:   backend,
		validator: opts.Validator,
		templates: opts.Templates,
		names:     opts.Names,
		rand:      opts.Rand,
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		temp:      opts.Temperature,
		log:       opts.Logger,
		now:       time.Now,
	}
	if g.log == nil {
		g.log = logger.Nop()
	}
	g.rand = guardRand(g.rand)
	if g.validator == nil {
		g.validator = NewValidator(g.rand, g.log)
	}
	g.log = g.log.With("component", "story_generator")
	if g.templates == nil {
		g.templates = prompts.NewTemplateEngine()
	}
	if len(g.names.Protagonists) == 0 || len(g.names.Companions) == 0 || len(g.names.Topics) == 0 {
		g.names = DefaultNameBank()
	}
	if g.timeout <= 0 {
		g.timeout = defaultGenerateTimeout
	}
	return g
}

// Generate asks the backend for a story and validates it. Every failure is a
// *StoryGenerationFailed wrapping the cause.
func (g *Generator) Generate(ctx context.Context, req models.GenerationRequest) (*models.Story, error) {
	if !req.Level.Valid() {
		return nil, &StoryGenerationFailed{Stage: "request", Err: fmt.Errorf("invalid level %q", req.Level)}
	}

	cast := Cast{Protagonist: pick(g.rand, g.names.Protagonists)}
	cast.Companion = pickOther(g.rand, g.names.Companions, cast.Protagonist)
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = pick(g.rand, g.names.Topics)
	}

	system, userPrompt, err := g.buildPrompts(req, cast, topic)
	if err != nil {
		return nil, &StoryGenerationFailed{Stage: "prompt", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	result, err := g.backend.Complete(callCtx, interfaces.CompletionRequest{
		System:      system,
		Prompt:      userPrompt,
		JSONOutput:  true,
		MaxTokens:   g.maxTokens,
		Temperature: g.temp,
	})
	latency := g.now().Sub(start)
	if err != nil {
		g.log.Warn("text backend failed", "backend", g.backend.Name(), "error", err, "latency_ms", latency.Milliseconds())
		return nil, &StoryGenerationFailed{Stage: "backend", Err: err}
	}

	raw, err := ParseRawOutput(result.Text)
	if err != nil {
		g.log.Warn("unparseable completion", "backend", result.Backend, "error", err)
		return nil, &StoryGenerationFailed{Stage: "parse", Err: &GenerationFormatError{Snippet: snippet(result.Text), Err: err}}
	}

	story, report, err := g.validator.ValidateCast(raw, req.Level, cast)
	if err != nil {
		g.log.Warn("completion failed validation", "backend", result.Backend, "error", err)
		return nil, &StoryGenerationFailed{Stage: "validate", Err: err}
	}

	for _, t := range req.RecentTitles {
		if strings.EqualFold(strings.TrimSpace(t), story.Title) {
			report.add("title repeats a recent story")
			break
		}
	}

	story.UserID = req.UserID
	story.Topic = topic
	story.EstimatedDurationMinutes = EstimatedDurationMinutes
	story.CreatedAt = g.now().UTC()
	story.Metadata = models.GenerationMetadata{
		Backend:          firstNonEmpty(result.Backend, g.backend.Name()),
		Model:            result.Model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
		LatencyMillis:    latency.Milliseconds(),
		GeneratedAt:      story.CreatedAt,
		Paragraphs:       len(story.Paragraphs()),
		Corrections:      report.Corrections,
	}

	g.log.Info("story generated",
		"title", story.Title,
		"level", story.Level,
		"topic", topic,
		"tokens", result.TotalTokens,
		"latency_ms", latency.Milliseconds(),
		"corrections", len(report.Corrections),
	)
	return story, nil
}

func (g *Generator) buildPrompts(req models.GenerationRequest, cast Cast, topic string) (string, string, error) {
	system, err := g.templates.Render(prompts.StorySystem, nil)
	if err != nil {
		return "", "", err
	}

	avoid := ""
	if len(req.RecentTitles) > 0 {
		avoid = "- The reader already knows these stories, write something different: " + strings.Join(req.RecentTitles, "; ") + "\n"
	}

	user, err := g.templates.Render(prompts.StoryGeneration, prompts.Vars{
		"level":       string(req.Level),
		"topic":       topic,
		"protagonist": cast.Protagonist,
		"companion":   cast.Companion,
		"words":       strconv.Itoa(req.Level.WordsPerParagraph()),
		"questions":   strconv.Itoa(req.Level.RequiredQuestions()),
		"avoid":       avoid,
	})
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func pick(r Randomizer, pool []string) string {
	return pool[r.IntN(len(pool))]
}

// pickOther picks from pool avoiding exclude when the pool allows it
func pickOther(r Randomizer, pool []string, exclude string) string {
	candidates := make([]string, 0, len(pool))
	for _, p := range pool {
		if p != exclude {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return pick(r, pool)
	}
	return pick(r, candidates)
}

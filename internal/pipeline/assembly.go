package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/choco2105/magic-reading/internal/generators"
	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
)

const (
	defaultPersistTimeout = 10 * time.Second
	defaultRecentTitles   = 10
	recentLookupTimeout   = 3 * time.Second
)

// StoryGenerator produces a validated, unillustrated story
type StoryGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (*models.Story, error)
}

// Illustrator turns three beats into three images in moment order
type Illustrator interface {
	Illustrate(ctx context.Context, beats []models.IllustrationBeat) (*generators.IllustrationResult, error)
}

// Options configures a Pipeline. Cache and Observer are optional.
type Options struct {
	Cache          interfaces.StoryCache
	Observer       StageObserver
	PersistTimeout time.Duration
	RecentTitles   int
	Logger         *logger.Logger
}

// Pipeline generates, illustrates and persists one story per request
type Pipeline struct {
	generator      StoryGenerator
	illustrator    Illustrator
	store          interfaces.DocumentStore
	cache          interfaces.StoryCache
	observer       StageObserver
	persistTimeout time.Duration
	recentTitles   int
	log            *logger.Logger
	now            func() time.Time
}

// New creates a story assembly pipeline
func New(generator StoryGenerator, illustrator Illustrator, store interfaces.DocumentStore, opts Options) *Pipeline {
	p := &Pipeline{
		generator:      generator,
		illustrator:    illustrator,
		store:          store,
		cache:          opts.Cache,
		observer:       opts.Observer,
		persistTimeout: opts.PersistTimeout,
		recentTitles:   opts.RecentTitles,
		log:            opts.Logger,
		now:            time.Now,
	}
	if p.persistTimeout <= 0 {
		p.persistTimeout = defaultPersistTimeout
	}
	if p.recentTitles == 0 {
		p.recentTitles = defaultRecentTitles
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	p.log = p.log.With("component", "story_pipeline")
	return p
}

// AssembleAndPersist runs one request through every stage. Either the
// returned story has been persisted with its id assigned, or nothing was.
func (p *Pipeline) AssembleAndPersist(ctx context.Context, req models.GenerationRequest) (*models.Story, error) {
	run := &run{p: p, event: StageEvent{RequestID: uuid.NewString(), UserID: req.UserID}}
	run.enter(StageReceived)

	if err := validateRequest(&req); err != nil {
		run.fail(FailureInvalidRequest)
		return nil, err
	}
	log := p.log.With("request_id", run.event.RequestID, "user_id", req.UserID, "level", req.Level)

	if len(req.RecentTitles) == 0 {
		req.RecentTitles = p.recentTitlesFor(ctx, req.UserID)
	}

	run.enter(StageGenerating)
	story, err := p.generator.Generate(ctx, req)
	if err != nil {
		log.Warn("story generation failed", "error", err)
		run.fail(FailureGeneration)
		return nil, err
	}

	run.enter(StageIllustrating)
	illustrated, err := p.illustrator.Illustrate(ctx, story.Beats)
	if err != nil {
		log.Error("illustration rejected beats", "error", err)
		run.fail(FailureGeneration)
		return nil, fmt.Errorf("illustrate story: %w", err)
	}
	story.Images = illustrated.Images
	story.IllustrationCost = illustrated.TotalCost

	run.enter(StagePersisting)
	id, err := p.persist(ctx, story)
	if err != nil {
		log.Error("failed to persist story", "error", err)
		run.fail(FailurePersistence)
		return nil, err
	}
	story.ID = id
	run.event.StoryID = id

	p.writeThrough(ctx, story, log)

	run.enter(StageDone)
	log.Info("story assembled",
		"story_id", id,
		"title", story.Title,
		"illustration_cost", story.IllustrationCost,
	)
	return story, nil
}

// Lookup returns a persisted story, reading through the cache when one is configured
func (p *Pipeline) Lookup(ctx context.Context, id string) (*models.Story, error) {
	if p.cache != nil {
		story, err := p.cache.GetStory(ctx, id)
		if err == nil {
			return story, nil
		}
		if !errors.Is(err, interfaces.ErrCacheMiss) {
			p.log.Warn("story cache read failed", "story_id", id, "error", err)
		}
	}

	docs, err := p.store.Query(ctx, interfaces.CollectionStories, interfaces.Where(interfaces.FieldID, id), interfaces.NewestFirst, 1)
	if err != nil {
		return nil, &PersistenceError{Op: "query", Err: err}
	}
	if len(docs) == 0 {
		return nil, ErrStoryNotFound
	}
	story, err := DecodeStory(docs[0])
	if err != nil {
		return nil, &PersistenceError{Op: "decode", Err: err}
	}

	if p.cache != nil {
		if err := p.cache.PutStory(ctx, story); err != nil {
			p.log.Warn("story cache fill failed", "story_id", id, "error", err)
		}
	}
	return story, nil
}

// DecodeStory rebuilds a Story from its stored document
func DecodeStory(doc interfaces.Document) (*models.Story, error) {
	var story models.Story
	if err := doc.Decode(&story); err != nil {
		return nil, err
	}
	story.ID = doc.ID
	return &story, nil
}

func (p *Pipeline) persist(ctx context.Context, story *models.Story) (string, error) {
	saveCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()

	id, err := p.store.Save(saveCtx, interfaces.CollectionStories, story)
	if err != nil {
		return "", &PersistenceError{Op: "save", Err: err}
	}
	if id == "" {
		return "", &PersistenceError{Op: "save", Err: errors.New("store returned an empty id")}
	}
	return id, nil
}

func (p *Pipeline) writeThrough(ctx context.Context, story *models.Story, log *logger.Logger) {
	if p.cache == nil {
		return
	}
	if err := p.cache.PutStory(ctx, story); err != nil {
		log.Warn("story cache write failed", "story_id", story.ID, "error", err)
	}
	if err := p.cache.PushRecent(ctx, story.UserID, story.ID); err != nil {
		log.Warn("recent story list update failed", "story_id", story.ID, "error", err)
	}
}

// recentTitlesFor reads the titles of the user's latest stories, preferring the
// cached recent list over a store query. Failures only weaken the originality
// hint, so they are logged and ignored.
func (p *Pipeline) recentTitlesFor(ctx context.Context, userID string) []string {
	if p.recentTitles < 0 {
		return nil
	}
	lookupCtx, cancel := context.WithTimeout(ctx, recentLookupTimeout)
	defer cancel()

	if titles := p.cachedRecentTitles(lookupCtx, userID); len(titles) > 0 {
		return titles
	}

	docs, err := p.store.Query(lookupCtx, interfaces.CollectionStories, interfaces.Where("userId", userID), interfaces.NewestFirst, p.recentTitles)
	if err != nil {
		p.log.Warn("recent titles lookup failed", "user_id", userID, "error", err)
		return nil
	}
	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		var s struct {
			Title string `json:"title"`
		}
		if err := doc.Decode(&s); err == nil && s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	return titles
}

func (p *Pipeline) cachedRecentTitles(ctx context.Context, userID string) []string {
	if p.cache == nil {
		return nil
	}
	ids, err := p.cache.RecentStoryIDs(ctx, userID, p.recentTitles)
	if err != nil {
		p.log.Warn("recent story list read failed", "user_id", userID, "error", err)
		return nil
	}
	if len(ids) > p.recentTitles {
		ids = ids[:p.recentTitles]
	}

	titles := make([]string, 0, len(ids))
	for _, id := range ids {
		story, err := p.Lookup(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrStoryNotFound) {
				p.log.Warn("recent story lookup failed", "story_id", id, "error", err)
			}
			continue
		}
		if story.Title != "" {
			titles = append(titles, story.Title)
		}
	}
	return titles
}

func validateRequest(req *models.GenerationRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Topic = strings.TrimSpace(req.Topic)
	if req.UserID == "" {
		return &RequestError{Field: "userId", Reason: "is required"}
	}
	if req.Level == "" {
		return &RequestError{Field: "level", Reason: "is required"}
	}
	level, ok := models.ParseLevel(string(req.Level))
	if !ok {
		return &RequestError{Field: "level", Reason: fmt.Sprintf("must be one of %v", models.Levels)}
	}
	req.Level = level
	if len([]rune(req.Topic)) > 100 {
		return &RequestError{Field: "topic", Reason: "must be at most 100 characters"}
	}
	return nil
}

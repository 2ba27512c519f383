package pipeline

import "time"

// Stage is a step of the assembly state machine
type Stage string

const (
	StageReceived     Stage = "received"
	StageGenerating   Stage = "generating"
	StageIllustrating Stage = "illustrating"
	StagePersisting   Stage = "persisting"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Failure categories published with StageFailed. They are safe to show to clients.
const (
	FailureInvalidRequest = "invalid_request"
	FailureGeneration     = "generation_failed"
	FailurePersistence    = "persistence_failed"
)

// StageEvent is one published transition
type StageEvent struct {
	RequestID string    `json:"requestId"`
	UserID    string    `json:"userId"`
	Stage     Stage     `json:"stage"`
	From      Stage     `json:"from,omitempty"`
	StoryID   string    `json:"storyId,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	At        time.Time `json:"at"`
}

// StageObserver receives every transition. It is called synchronously, so
// implementations must not block.
type StageObserver interface {
	OnStage(ev StageEvent)
}

// ObserverFunc adapts a function to StageObserver
type ObserverFunc func(ev StageEvent)

func (f ObserverFunc) OnStage(ev StageEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) OnStage(StageEvent) {}

// Observers fans one event out to several observers in order
type Observers []StageObserver

func (o Observers) OnStage(ev StageEvent) {
	for _, obs := range o {
		obs.OnStage(ev)
	}
}

// run tracks the state of a single request
type run struct {
	p     *Pipeline
	event StageEvent
}

func (r *run) enter(stage Stage) {
	r.event.From = r.event.Stage
	r.event.Stage = stage
	r.event.At = r.p.now().UTC()
	r.p.observer.OnStage(r.event)
}

func (r *run) fail(failure string) {
	r.event.Failure = failure
	r.enter(StageFailed)
}

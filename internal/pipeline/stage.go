package pipeline

import (
	"context"
	"errors"
	"time"
)

// Stage names.
const (
	StageResearcher   = "researcher"
	StageScriptwriter = "scriptwriter"
	StageThumbnails   = "thumbnail_promptor"
	StageCaptioner    = "captioner"
	StageVoiceover    = "voiceover"
	StageNewsletter   = "newsletter"
)

// ErrStageFailed wraps a transport or model failure inside a stage.
var ErrStageFailed = errors.New("stage failed")

// ErrStageUnavailable is returned by stages whose backend cannot be reached.
var ErrStageUnavailable = errors.New("stage backend unavailable")

// ErrUnknownStage is returned when an engine has no stage for a name.
var ErrUnknownStage = errors.New("unknown stage")

// Attempt tells a stage whether it is producing a first draft or repairing a
// previous one.
type Attempt int

const (
	AttemptInitial Attempt = iota
	AttemptRepairSchema
	AttemptRepairOnTopic
	AttemptRepairCaptions
)

func (a Attempt) String() string {
	switch a {
	case AttemptInitial:
		return "initial"
	case AttemptRepairSchema:
		return "repair_schema"
	case AttemptRepairOnTopic:
		return "repair_on_topic"
	case AttemptRepairCaptions:
		return "repair_captions"
	default:
		return "unknown"
	}
}

// Stage produces the value for one state field. Stages read the state but
// never write it; the orchestrator stores the returned value.
type Stage interface {
	Name() string
	Key() string
	Run(ctx context.Context, st *State, attempt Attempt) (any, error)
}

// Engine is a named family of stages.
type Engine interface {
	Name() string
	Researcher() Stage
	Scriptwriter() Stage
	Thumbnails() Stage
	Captioner() Stage
	Voiceover() Stage
	Newsletter() Stage
}

// StageByName resolves a stage name against e.
func StageByName(e Engine, name string) (Stage, bool) {
	var s Stage
	switch name {
	case StageResearcher:
		s = e.Researcher()
	case StageScriptwriter:
		s = e.Scriptwriter()
	case StageThumbnails:
		s = e.Thumbnails()
	case StageCaptioner:
		s = e.Captioner()
	case StageVoiceover:
		s = e.Voiceover()
	case StageNewsletter:
		s = e.Newsletter()
	}
	return s, s != nil
}

// Event types published while a run progresses.
const (
	EventRunStarted     = "run_started"
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventCorrected      = "validation_corrected"
	EventRepair         = "repair"
	EventReviewPending  = "review_pending"
	EventReviewDecided  = "review_decided"
	EventRunCompleted   = "run_completed"
	EventRunSuspended   = "run_suspended"
	EventRunFailed      = "run_failed"
	EventSummary        = "summary"
)

// Event is a progress notification for observers such as the websocket feed.
type Event struct {
	RunID  string    `json:"run_id"`
	Type   string    `json:"type"`
	Stage  string    `json:"stage,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Observer receives events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }

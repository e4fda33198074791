package domain

import "time"

// JobState enumerates job lifecycle states. Terminal states are immutable.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether a state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// JobPhase enumerates pipeline phases in execution order.
type JobPhase string

const (
	PhaseIdle                JobPhase = "Idle"
	PhaseGeneratingStory     JobPhase = "GeneratingStory"
	PhaseParsingScenes       JobPhase = "ParsingScenes"
	PhaseGeneratingImages    JobPhase = "GeneratingImages"
	PhaseGeneratingNarration JobPhase = "GeneratingNarration"
	PhaseAssembling          JobPhase = "Assembling"
	PhaseFinalizing          JobPhase = "Finalizing"
	PhaseDone                JobPhase = "Done"

	// Terminal failure phases appear only on the wire, never on a running
	// record.
	PhaseFailed    JobPhase = "Failed"
	PhaseCancelled JobPhase = "Cancelled"
)

// Terminal reports whether the phase ends a job's event stream.
func (p JobPhase) Terminal() bool {
	switch p {
	case PhaseDone, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// JobRequest is the validated submission payload a job runs against.
type JobRequest struct {
	Prompt       string    `json:"prompt"`
	StoryType    string    `json:"storyType"`
	Tone         string    `json:"tone"`
	Length       string    `json:"length"`
	Character    Character `json:"character"`
	IncludeVoice bool      `json:"includeVoice"`
	IncludeVideo bool      `json:"includeVideo"`
}

// Artifacts collects per-scene and final asset URLs, indexed by scene
// number minus one.
type Artifacts struct {
	SceneImages []string `json:"sceneImages,omitempty"`
	SceneAudios []string `json:"sceneAudios,omitempty"`
	VideoURL    string   `json:"videoUrl,omitempty"`
	AudioURL    string   `json:"audioUrl,omitempty"`
}

// JobRecord is the lifecycle record of a single generation run. The registry
// owns the record; the controller is its sole writer while running.
type JobRecord struct {
	ID        string     `json:"id"`
	State     JobState   `json:"state"`
	Phase     JobPhase   `json:"phase"`
	Progress  int        `json:"progress"`
	Request   JobRequest `json:"request"`
	Story     *Story     `json:"story,omitempty"`
	Artifacts Artifacts  `json:"artifacts"`
	Err       *Error     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to readers while the controller
// keeps mutating the original.
func (r *JobRecord) Clone() JobRecord {
	out := *r
	out.Artifacts.SceneImages = append([]string(nil), r.Artifacts.SceneImages...)
	out.Artifacts.SceneAudios = append([]string(nil), r.Artifacts.SceneAudios...)
	if r.Story != nil {
		st := *r.Story
		st.Scenes = append([]Scene(nil), r.Story.Scenes...)
		out.Story = &st
	}
	if r.Request.Character.Meta != nil {
		meta := make(map[string]string, len(r.Request.Character.Meta))
		for k, v := range r.Request.Character.Meta {
			meta[k] = v
		}
		out.Request.Character.Meta = meta
	}
	return out
}

// ProgressEvent is one monotonic status notification for a job. Events are
// totally ordered per job by the controller.
type ProgressEvent struct {
	JobID     string    `json:"jobId"`
	Phase     JobPhase  `json:"phase"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

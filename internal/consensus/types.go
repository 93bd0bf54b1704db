package consensus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gohive/internal/cost"
	"github.com/nextlevelbuilder/gohive/internal/history"
)

// Todo is one tracked work item.
type Todo struct {
	Content string `json:"content"`
	State   string `json:"state"` // "todo", "pending", "done"
}

// Lesson is one reflector-extracted lesson kept in a model's ACE context.
type Lesson struct {
	Type       string  `json:"type"` // "factual" or "behavioral"
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// ModelState is the reflector's running summary for one model.
type ModelState struct {
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChildInfo describes one live child for the children injector.
type ChildInfo struct {
	ChildID   string    `json:"child_id"`
	SpawnedAt time.Time `json:"spawned_at"`
}

// Budget carries spend data for the budget injector.
type Budget struct {
	SpentUSD float64 `json:"spent_usd"`
	LimitUSD float64 `json:"limit_usd"`
}

// WaitKind tags the wait variant of an action response.
type WaitKind int

const (
	WaitNone WaitKind = iota // field absent
	WaitBool
	WaitSeconds
)

// Wait is the tagged bool-or-number wait field of an ActionResponse.
type Wait struct {
	Kind    WaitKind
	Bool    bool
	Seconds float64
}

// True reports whether the wait asks for any waiting at all.
func (w Wait) True() bool {
	switch w.Kind {
	case WaitBool:
		return w.Bool
	case WaitSeconds:
		return w.Seconds > 0
	default:
		return false
	}
}

func (w *Wait) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*w = Wait{Kind: WaitBool, Bool: b}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*w = Wait{Kind: WaitSeconds, Seconds: n}
		return nil
	}
	var null any
	if err := json.Unmarshal(data, &null); err == nil && null == nil {
		*w = Wait{}
		return nil
	}
	return fmt.Errorf("wait: expected bool or number, got %s", string(data))
}

func (w Wait) MarshalJSON() ([]byte, error) {
	switch w.Kind {
	case WaitBool:
		return json.Marshal(w.Bool)
	case WaitSeconds:
		return json.Marshal(w.Seconds)
	default:
		return []byte("null"), nil
	}
}

// ActionResponse is one model's proposed next action.
type ActionResponse struct {
	Action           string         `json:"action"`
	Params           map[string]any `json:"params"`
	Wait             Wait           `json:"wait,omitempty"`
	AutoCompleteTodo bool           `json:"auto_complete_todo,omitempty"`
	Reasoning        string         `json:"reasoning"`
}

// Input is the state snapshot one consensus cycle works from. Histories is
// read-only for the duration of the cycle: the fan-out goroutines read it
// concurrently, so nothing inside the cycle may write it. Condensation hands
// its replacement history back through Decision.ACEUpdates for the agent to
// apply under mailbox serialization.
type Input struct {
	AgentID      string
	TaskID       string
	SystemPrompt string
	ModelPool    []string
	Histories    history.Set
	Lessons      map[string][]Lesson
	ModelStates  map[string]*ModelState
	Todos        []Todo
	Children     []ChildInfo
	Budget       *Budget
}

// ACEUpdate carries condensation output for the agent to merge back into its
// state: the reflector's lessons and summary, plus the condensed history that
// replaces the model's live one.
type ACEUpdate struct {
	Lessons   []Lesson
	State     *ModelState
	Condensed []history.Entry // replacement history, newest first
}

// Decision is the outcome of one consensus cycle.
type Decision struct {
	Type        string // "consensus" or "forced_decision"
	Action      ActionResponse
	Accumulator cost.Accumulator
	RoundCount  int
	ACEUpdates  map[string]ACEUpdate // model_id → condensation output, may be empty
}

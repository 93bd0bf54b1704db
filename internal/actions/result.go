package actions

// Result is the unified return type from action execution.
type Result struct {
	Content any    `json:"content"`            // delivered to the agent as the action result
	IsError bool   `json:"is_error"`           // marks error
	Async   bool   `json:"async"`              // action is still running; Content holds the interim status
	Err     error  `json:"-"`                  // internal error (not serialized)

	// Command is set by shell when the command outlived the sync threshold;
	// the router keeps it in its single shell slot.
	Command *RunningCommand `json:"-"`
}

func NewResult(content any) *Result {
	return &Result{Content: content}
}

func ErrorResult(message string) *Result {
	return &Result{Content: message, IsError: true}
}

func AsyncResult(content any, cmd *RunningCommand) *Result {
	return &Result{Content: content, Async: true, Command: cmd}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

package engine

// DecisionKind is the human action driving the state machine.
type DecisionKind string

const (
	DecisionSubmitInput DecisionKind = "submit_input"
	DecisionApprove     DecisionKind = "approve"
	DecisionFeedback    DecisionKind = "submit_feedback"
	DecisionNavigate    DecisionKind = "navigate"
	DecisionRetry       DecisionKind = "retry"
	DecisionPublish     DecisionKind = "publish"
)

// Decision is what the decision surface sends back after a render.
type Decision struct {
	Kind    DecisionKind   `json:"kind"`
	Text    string         `json:"text,omitempty"`
	Target  Stage          `json:"target,omitempty"`
	Publish *PublishTarget `json:"publish,omitempty"`
}

// Approve advances to the next stage.
func Approve() Decision { return Decision{Kind: DecisionApprove} }

// SubmitFeedback loops on the current stage with text.
func SubmitFeedback(text string) Decision { return Decision{Kind: DecisionFeedback, Text: text} }

// NavigateTo jumps to any stage; entry guards still apply.
func NavigateTo(stage Stage) Decision { return Decision{Kind: DecisionNavigate, Target: stage} }

// SubmitInput supplies the problem statement.
func SubmitInput(text string) Decision { return Decision{Kind: DecisionSubmitInput, Text: text} }

// Retry re-evaluates the current stage.
func Retry() Decision { return Decision{Kind: DecisionRetry} }

// Publish pushes the deployment bundle and advances on success.
func Publish(target PublishTarget) Decision {
	return Decision{Kind: DecisionPublish, Publish: &target}
}

// View is the snapshot rendered by the decision surface.
type View struct {
	RunID     string            `json:"run_id"`
	Stage     Stage             `json:"stage"`
	Status    StageStatus       `json:"stage_status"`
	Artifacts map[string]string `json:"artifacts"`
	Available []DecisionKind    `json:"available"`
	Condition *Condition        `json:"condition,omitempty"`
	Complete  bool              `json:"complete"`
}

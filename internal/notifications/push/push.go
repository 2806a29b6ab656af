package push

import "context"

// Priority is the delivery priority hint for a push.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is one multicast request.
type Message struct {
	Tokens   []string          `json:"tokens"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority Priority          `json:"priority"`
	Data     map[string]string `json:"data,omitempty"`
}

// Result is the per-token outcome. Results are index-aligned with Message.Tokens.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Gateway sends a multicast push and returns one result per token.
type Gateway interface {
	SendMulticast(ctx context.Context, msg Message) ([]Result, error)
}

// Disabled is a gateway that reports every token as undelivered.
type Disabled struct{}

// SendMulticast implements Gateway.
func (Disabled) SendMulticast(_ context.Context, msg Message) ([]Result, error) {
	results := make([]Result, len(msg.Tokens))
	for i := range results {
		results[i] = Result{Error: "push disabled"}
	}
	return results, nil
}

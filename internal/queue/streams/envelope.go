package streams

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Stream and event names used by the solve queue.
const (
	SessionStream = "quizagent.sessions"

	EventSessionStart = "quiz.session.start"

	PayloadVersionV1 = "v1"
)

// Envelope is the canonical message wrapper persisted to Redis Streams.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// StartRequest asks a worker to run one quiz session.
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
	StartURL  string `json:"start_url"`
	Requester string `json:"requester,omitempty"`
}

// Validate checks the request payload before it is enqueued or executed.
func (r StartRequest) Validate() error {
	if r.StartURL == "" {
		return fmt.Errorf("start_url is required")
	}
	u, err := url.Parse(r.StartURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("start_url must be an absolute http(s) URL")
	}
	return nil
}

// ValidateBasic ensures mandatory envelope fields are present.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.PayloadVersion == "" {
		return fmt.Errorf("payload_version is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// DecodeStartRequest extracts and validates a start request payload.
func (e *Envelope) DecodeStartRequest() (StartRequest, error) {
	if e.EventType != EventSessionStart {
		return StartRequest{}, fmt.Errorf("event %s is not a session start", e.EventType)
	}
	var req StartRequest
	if err := json.Unmarshal(e.Data, &req); err != nil {
		return StartRequest{}, fmt.Errorf("decode start request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return StartRequest{}, err
	}
	return req, nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates
// required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}

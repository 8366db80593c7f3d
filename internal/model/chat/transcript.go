package chat

// Transcript is a named, owner-tagged conversation record. The owner is set
// once at creation and never changes; messages are append-only and keep
// strict chronological order.
type Transcript struct {
	Owner    string    `json:"owner"`
	Messages []Message `json:"messages"`
}

// NewTranscript returns an empty transcript owned by username.
func NewTranscript(owner string) *Transcript {
	return &Transcript{Owner: owner}
}

// Append adds a message to the end of the transcript.
func (t *Transcript) Append(role Role, content string) {
	t.Messages = append(t.Messages, Message{Role: role, Content: content})
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.Messages)
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the live message slice.
func (t *Transcript) Clone() *Transcript {
	copied := make([]Message, len(t.Messages))
	copy(copied, t.Messages)
	return &Transcript{Owner: t.Owner, Messages: copied}
}

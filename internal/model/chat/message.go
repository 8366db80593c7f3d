package chat

// Role identifies the author of a transcript entry. The set is closed:
// transcripts only ever contain user and assistant messages.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known variants.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single immutable transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

package memory

import "time"

type Role string

const (
	RoleUser     Role = "user"
	RoleGuardian Role = "guardian"
	RoleSystem   Role = "system"
)

// Turn is a single immutable conversational exchange entry.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Message is the role/content pair handed to a language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

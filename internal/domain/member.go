package domain

// ConnectionID is assigned per signaling connection and never reused.
type ConnectionID string

// Member represents a connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	ID   ConnectionID `json:"id"`
	User UserID       `json:"userId,omitempty"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id ConnectionID, user UserID) Member {
	return Member{ID: id, User: user}
}

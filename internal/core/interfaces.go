package core

import "github.com/dkeye/Huddle/internal/domain"

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID    domain.ConnectionID `json:"id"`
	User  domain.UserID       `json:"userId,omitempty"`
	Admin bool                `json:"admin"`
}

type RoomInfo struct {
	ID          domain.RoomID       `json:"id"`
	AdminID     domain.ConnectionID `json:"adminId,omitempty"`
	MemberCount int                 `json:"member_count"`
}

func RoomInfoOf(r *domain.Room) RoomInfo {
	return RoomInfo{ID: r.ID, AdminID: r.AdminID, MemberCount: len(r.Members)}
}

func MembersOf(r *domain.Room) []MemberDTO {
	out := make([]MemberDTO, 0, len(r.Members))
	for _, m := range r.Members {
		out = append(out, MemberDTO{ID: m.ID, User: m.User, Admin: r.IsAdmin(m.ID)})
	}
	return out
}

package domain

import "slices"

type RoomID string

// Room exists iff it has at least one member. AdminID is empty when the
// admin seat is vacant; when set it is always a current member.
type Room struct {
	ID      RoomID
	Members []Member // join order
	AdminID ConnectionID
}

func (r *Room) Has(id ConnectionID) bool {
	return r.index(id) >= 0
}

func (r *Room) IsAdmin(id ConnectionID) bool {
	return id != "" && r.AdminID == id
}

func (r *Room) Add(m Member) {
	if r.Has(m.ID) {
		return
	}
	r.Members = append(r.Members, m)
}

// Remove drops id from the member list and vacates the admin seat if id held it.
// There is no promotion of another member.
func (r *Room) Remove(id ConnectionID) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.Members = slices.Delete(r.Members, i, i+1)
	if r.AdminID == id {
		r.AdminID = ""
	}
	return true
}

func (r *Room) Empty() bool { return len(r.Members) == 0 }

// Others returns the ids of every member except id, in join order.
func (r *Room) Others(id ConnectionID) []ConnectionID {
	out := make([]ConnectionID, 0, len(r.Members))
	for _, m := range r.Members {
		if m.ID != id {
			out = append(out, m.ID)
		}
	}
	return out
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	return &Room{ID: r.ID, Members: slices.Clone(r.Members), AdminID: r.AdminID}
}

func (r *Room) index(id ConnectionID) int {
	return slices.IndexFunc(r.Members, func(m Member) bool { return m.ID == id })
}

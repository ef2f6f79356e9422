package http

import (
	"net/http"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-gonic/gin"
)

// RoomsHandler exposes read-only registry views.
type RoomsHandler struct {
	Registry *app.Registry
}

func (h *RoomsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Registry.List()})
}

type roomView struct {
	core.RoomInfo
	Members []core.MemberDTO `json:"members"`
}

func (h *RoomsHandler) Get(c *gin.Context) {
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	room, ok := h.Registry.Room(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRoomNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, roomView{RoomInfo: core.RoomInfoOf(room), Members: core.MembersOf(room)})
}

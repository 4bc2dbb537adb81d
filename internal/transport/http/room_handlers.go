package http

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RoomHandlers exposes read-only views of live meeting rooms.
type RoomHandlers struct {
	relay *core.Relay
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(relay *core.Relay, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		relay: relay,
		log:   logger,
	}
}

// ListRooms returns every live room ordered by classroom id.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	response := make([]RoomResponse, 0, h.relay.Rooms().Len())
	h.relay.Rooms().Range(func(room *core.Room) bool {
		response = append(response, roomToResponse(room))
		return true
	})
	slices.SortFunc(response, func(a, b RoomResponse) int {
		return cmp.Compare(a.ClassroomID, b.ClassroomID)
	})

	h.log.Debug().Int("room_count", len(response)).Msg("rooms listed")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns a single live room.
// GET /api/rooms/:classroomId
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	classroomID, err := strconv.ParseInt(c.Param("classroomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid classroom id"})
		return
	}

	room, ok := h.relay.Rooms().Get(classroomID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, roomToResponse(room))
}

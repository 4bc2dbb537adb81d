package http

import "github.com/vovakirdan/meetrelay/internal/core"

// RoomResponse describes a live meeting room.
type RoomResponse struct {
	ClassroomID  int64                 `json:"classroomId"`
	Participants []ParticipantResponse `json:"participants"`
}

// ParticipantResponse describes one connection in a room.
type ParticipantResponse struct {
	ConnectionID string `json:"connectionId"`
	UserID       int64  `json:"userId"`
}

func roomToResponse(room *core.Room) RoomResponse {
	participants := room.Participants()
	resp := RoomResponse{
		ClassroomID:  room.ClassroomID,
		Participants: make([]ParticipantResponse, 0, len(participants)),
	}
	for _, p := range participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			ConnectionID: p.Conn.ID(),
			UserID:       p.UserID,
		})
	}
	return resp
}

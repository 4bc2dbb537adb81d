package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Message types understood by the meeting relay.
const (
	TypeJoin         = "join"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeRaiseHand    = "raise-hand"
	TypeLeave        = "leave"

	TypeExistingParticipants = "existing-participants"
	TypeParticipantLeft      = "participant-left"
)

// ErrMalformed is returned by Parse for payloads that cannot be dispatched.
var ErrMalformed = errors.New("malformed message")

// ID is a numeric identifier. Browsers tend to send ids as strings, so both
// JSON numbers and numeric strings are accepted.
type ID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", b, err)
	}
	*id = ID(v)
	return nil
}

// Message is one parsed inbound message. The concrete type is one of
// Join, Signal, RaiseHand, Leave or Unknown.
type Message interface {
	Type() string
	message()
}

// Join registers the sending connection in a classroom.
type Join struct {
	ClassroomID int64
	UserID      int64
}

// Signal is a point-to-point WebRTC handshake message (offer, answer or
// ice-candidate). Raw holds the payload exactly as received.
type Signal struct {
	Kind        string
	ClassroomID int64
	ToUserID    int64
	Raw         json.RawMessage
}

// RaiseHand is broadcast verbatim to the whole room.
type RaiseHand struct {
	ClassroomID int64
	Raw         json.RawMessage
}

// Leave ends the sender's membership.
type Leave struct{}

// Unknown carries a message type the relay does not handle.
type Unknown struct {
	Kind string
}

func (Join) Type() string      { return TypeJoin }
func (s Signal) Type() string  { return s.Kind }
func (RaiseHand) Type() string { return TypeRaiseHand }
func (Leave) Type() string     { return TypeLeave }
func (u Unknown) Type() string { return u.Kind }

func (Join) message()      {}
func (Signal) message()    {}
func (RaiseHand) message() {}
func (Leave) message()     {}
func (Unknown) message()   {}

type header struct {
	Type *string `json:"type"`
}

type joinFields struct {
	ClassroomID *ID `json:"classroomId"`
	FromUserID  *ID `json:"fromUserId"`
}

type signalFields struct {
	ClassroomID *ID `json:"classroomId"`
	ToUserID    *ID `json:"toUserId"`
}

type roomFields struct {
	ClassroomID *ID `json:"classroomId"`
}

// Parse decodes a raw inbound payload. Raw fields of the returned message
// alias data. Errors wrap ErrMalformed.
func Parse(data []byte) (Message, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == nil || *h.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch kind := *h.Type; kind {
	case TypeJoin:
		var f joinFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		if f.ClassroomID == nil || f.FromUserID == nil {
			return nil, fmt.Errorf("%w: %s requires classroomId and fromUserId", ErrMalformed, kind)
		}
		return Join{ClassroomID: int64(*f.ClassroomID), UserID: int64(*f.FromUserID)}, nil
	case TypeOffer, TypeAnswer, TypeICECandidate:
		var f signalFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		if f.ClassroomID == nil || f.ToUserID == nil {
			return nil, fmt.Errorf("%w: %s requires classroomId and toUserId", ErrMalformed, kind)
		}
		return Signal{
			Kind:        kind,
			ClassroomID: int64(*f.ClassroomID),
			ToUserID:    int64(*f.ToUserID),
			Raw:         data,
		}, nil
	case TypeRaiseHand:
		var f roomFields
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
		}
		if f.ClassroomID == nil {
			return nil, fmt.Errorf("%w: %s requires classroomId", ErrMalformed, kind)
		}
		return RaiseHand{ClassroomID: int64(*f.ClassroomID), Raw: data}, nil
	case TypeLeave:
		return Leave{}, nil
	default:
		return Unknown{Kind: kind}, nil
	}
}

// ExistingParticipants is sent to a joining connection only.
type ExistingParticipants struct {
	Type         string  `json:"type"`
	ClassroomID  int64   `json:"classroomId"`
	Participants []int64 `json:"participants"`
}

// NewExistingParticipants builds the join reply. A nil list encodes as [].
func NewExistingParticipants(classroomID int64, userIDs []int64) ExistingParticipants {
	if userIDs == nil {
		userIDs = []int64{}
	}
	return ExistingParticipants{
		Type:         TypeExistingParticipants,
		ClassroomID:  classroomID,
		Participants: userIDs,
	}
}

// ParticipantLeft notifies the remaining room members of a departure.
type ParticipantLeft struct {
	Type        string `json:"type"`
	ClassroomID int64  `json:"classroomId"`
	UserID      int64  `json:"userId"`
}

// NewParticipantLeft builds a participant-left notification.
func NewParticipantLeft(classroomID, userID int64) ParticipantLeft {
	return ParticipantLeft{
		Type:        TypeParticipantLeft,
		ClassroomID: classroomID,
		UserID:      userID,
	}
}

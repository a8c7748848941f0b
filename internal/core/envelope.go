package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/tgcalls/internal/domain"
)

type MessageType string

// Inbound kinds.
const (
	TypeJoinRoom     MessageType = "join-room"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeLeaveRoom    MessageType = "leave-room"
)

// Outbound-only kinds.
const (
	TypeConnected  MessageType = "connected"
	TypeUserJoined MessageType = "user-joined"
	TypeUserLeft   MessageType = "user-left"
	TypeRoomUsers  MessageType = "room-users"
	TypeError      MessageType = "error"
)

var (
	ErrMalformed    = errors.New("malformed envelope")
	ErrMissingType  = errors.New("envelope without type")
	ErrUnknownType  = errors.New("unknown envelope type")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// DecodeError carries the envelope type (if it was readable) next to the cause.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Inbound is the closed set of client-originated envelopes:
// JoinRoom, Offer, Answer, ICECandidate and LeaveRoom.
type Inbound interface {
	Kind() MessageType
	inbound()
}

type JoinRoom struct {
	RoomID domain.RoomID
}

type LeaveRoom struct {
	RoomID domain.RoomID
}

// Offer carries an opaque SDP payload. RoomID is passed through untouched and
// may be empty.
type Offer struct {
	Target domain.UserID
	SDP    json.RawMessage
	RoomID json.RawMessage
}

type Answer struct {
	Target domain.UserID
	SDP    json.RawMessage
}

type ICECandidate struct {
	Target    domain.UserID
	Candidate json.RawMessage
}

func (JoinRoom) Kind() MessageType     { return TypeJoinRoom }
func (LeaveRoom) Kind() MessageType    { return TypeLeaveRoom }
func (Offer) Kind() MessageType        { return TypeOffer }
func (Answer) Kind() MessageType       { return TypeAnswer }
func (ICECandidate) Kind() MessageType { return TypeICECandidate }

func (JoinRoom) inbound()     {}
func (LeaveRoom) inbound()    {}
func (Offer) inbound()        {}
func (Answer) inbound()       {}
func (ICECandidate) inbound() {}

type wireInbound struct {
	Type         MessageType     `json:"type"`
	RoomID       json.RawMessage `json:"room_id"`
	TargetUserID json.RawMessage `json:"target_user_id"`
	SDP          json.RawMessage `json:"sdp"`
	Candidate    json.RawMessage `json:"candidate"`
}

// DecodeInbound parses one client frame. Every failure is a *DecodeError.
func DecodeInbound(data []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if w.Type == "" {
		return nil, &DecodeError{Err: ErrMissingType}
	}

	fail := func(err error) (Inbound, error) {
		return nil, &DecodeError{Type: w.Type, Err: err}
	}

	switch w.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		roomID, err := decodeRoomID(w.RoomID)
		if err != nil {
			return fail(err)
		}
		if w.Type == TypeJoinRoom {
			return JoinRoom{RoomID: roomID}, nil
		}
		return LeaveRoom{RoomID: roomID}, nil

	case TypeOffer, TypeAnswer:
		target, err := decodeTarget(w.TargetUserID)
		if err != nil {
			return fail(err)
		}
		if absent(w.SDP) {
			return fail(fmt.Errorf("%w: sdp", ErrMissingField))
		}
		if w.Type == TypeOffer {
			return Offer{Target: target, SDP: w.SDP, RoomID: w.RoomID}, nil
		}
		return Answer{Target: target, SDP: w.SDP}, nil

	case TypeICECandidate:
		target, err := decodeTarget(w.TargetUserID)
		if err != nil {
			return fail(err)
		}
		if absent(w.Candidate) {
			return fail(fmt.Errorf("%w: candidate", ErrMissingField))
		}
		return ICECandidate{Target: target, Candidate: w.Candidate}, nil

	default:
		return fail(ErrUnknownType)
	}
}

func decodeRoomID(raw json.RawMessage) (domain.RoomID, error) {
	if absent(raw) {
		return "", fmt.Errorf("%w: room_id", ErrMissingField)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: room_id", ErrInvalidField)
	}
	id, err := domain.ParseRoomID(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return id, nil
}

func decodeTarget(raw json.RawMessage) (domain.UserID, error) {
	if absent(raw) {
		return 0, fmt.Errorf("%w: target_user_id", ErrMissingField)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: target_user_id", ErrInvalidField)
	}
	id, err := domain.NewUserID(n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return id, nil
}

// absent treats JSON falsy values as a missing field.
func absent(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return true
	}
	switch string(v) {
	case "null", `""`, "{}", "[]", "false", "0":
		return true
	}
	return false
}

type Connected struct {
	Type    MessageType   `json:"type"`
	UserID  domain.UserID `json:"user_id"`
	Message string        `json:"message"`
}

type UserJoined struct {
	Type   MessageType   `json:"type"`
	UserID domain.UserID `json:"user_id"`
	RoomID domain.RoomID `json:"room_id"`
}

type UserLeft struct {
	Type   MessageType   `json:"type"`
	UserID domain.UserID `json:"user_id"`
	RoomID domain.RoomID `json:"room_id"`
}

type RoomUsers struct {
	Type   MessageType     `json:"type"`
	RoomID domain.RoomID   `json:"room_id"`
	Users  []domain.UserID `json:"users"`
}

type ForwardedOffer struct {
	Type       MessageType     `json:"type"`
	FromUserID domain.UserID   `json:"from_user_id"`
	RoomID     json.RawMessage `json:"room_id"`
	SDP        json.RawMessage `json:"sdp"`
}

type ForwardedAnswer struct {
	Type       MessageType     `json:"type"`
	FromUserID domain.UserID   `json:"from_user_id"`
	SDP        json.RawMessage `json:"sdp"`
}

type ForwardedICECandidate struct {
	Type       MessageType     `json:"type"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

var jsonNull = json.RawMessage("null")

func NewConnected(uid domain.UserID) Connected {
	return Connected{Type: TypeConnected, UserID: uid, Message: "WebSocket connected successfully"}
}

func NewUserJoined(uid domain.UserID, room domain.RoomID) UserJoined {
	return UserJoined{Type: TypeUserJoined, UserID: uid, RoomID: room}
}

func NewUserLeft(uid domain.UserID, room domain.RoomID) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: uid, RoomID: room}
}

// NewRoomUsers never encodes users as null.
func NewRoomUsers(room domain.RoomID, users []domain.UserID) RoomUsers {
	if users == nil {
		users = []domain.UserID{}
	}
	return RoomUsers{Type: TypeRoomUsers, RoomID: room, Users: users}
}

func NewForwardedOffer(from domain.UserID, o Offer) ForwardedOffer {
	roomID := o.RoomID
	if len(bytes.TrimSpace(roomID)) == 0 {
		roomID = jsonNull
	}
	return ForwardedOffer{Type: TypeOffer, FromUserID: from, RoomID: roomID, SDP: o.SDP}
}

func NewForwardedAnswer(from domain.UserID, a Answer) ForwardedAnswer {
	return ForwardedAnswer{Type: TypeAnswer, FromUserID: from, SDP: a.SDP}
}

func NewForwardedICECandidate(from domain.UserID, c ICECandidate) ForwardedICECandidate {
	return ForwardedICECandidate{Type: TypeICECandidate, FromUserID: from, Candidate: c.Candidate}
}

func NewError(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}

// Encode marshals an outbound envelope into a wire frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return Frame(b), nil
}

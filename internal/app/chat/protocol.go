package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are not a valid envelope or
	// whose payload does not fit the declared type.
	ErrMalformed = errors.New("malformed frame")

	// ErrUnknownType is returned for a well-formed envelope with an unsupported type.
	ErrUnknownType = errors.New("unknown message type")
)

// AdminCommand is a host-only moderation action.
type AdminCommand string

const (
	CommandLock AdminCommand = "lock"
	CommandKick AdminCommand = "kick"
	CommandBan  AdminCommand = "ban"
)

// Inbound is one decoded client frame. The set of implementations is closed;
// Router.dispatch switches over all of them.
type Inbound interface {
	inbound()
}

// JoinRequest asks to enter a room under a display name.
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// ChatRequest is a room-wide message.
type ChatRequest struct {
	Message string `json:"message"`
}

// TypingRequest starts the sender's typing indicator.
type TypingRequest struct{}

// StopTypingRequest clears the sender's typing indicator.
type StopTypingRequest struct{}

// DirectRequest is a private message to another occupant of the sender's room.
type DirectRequest struct {
	ToUsername string `json:"toUsername"`
	Message    string `json:"message"`
}

// AdminRequest is a moderation command.
type AdminRequest struct {
	Command    AdminCommand `json:"command"`
	TargetUser string       `json:"targetUser,omitempty"`
}

func (JoinRequest) inbound()       {}
func (ChatRequest) inbound()       {}
func (TypingRequest) inbound()     {}
func (StopTypingRequest) inbound() {}
func (DirectRequest) inbound()     {}
func (AdminRequest) inbound()      {}

type rawEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a frame into its typed request. Errors wrap ErrMalformed or
// ErrUnknownType.
func Decode(frame []byte) (Inbound, error) {
	var env rawEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case "join":
		return decodePayload[JoinRequest](env)
	case "chat":
		return decodePayload[ChatRequest](env)
	case "typing":
		return TypingRequest{}, nil
	case "stop_typing":
		return StopTypingRequest{}, nil
	case "dm":
		return decodePayload[DirectRequest](env)
	case "admin":
		req, err := decodePayload[AdminRequest](env)
		if err != nil {
			return nil, err
		}
		switch req.Command {
		case CommandLock, CommandKick, CommandBan:
			return req, nil
		default:
			return nil, fmt.Errorf("%w: unsupported admin command %q", ErrMalformed, req.Command)
		}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePayload[T Inbound](env rawEnvelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return out, nil
}

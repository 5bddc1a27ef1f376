package errs

import "net/http"

// errorMap holds the template for every known code. Messages containing a
// verb are formatted with the details passed to NewError.
var errorMap = map[int]CustomError{
	ErrRateLimitExceeded:  {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrMessageRateLimited: {Code: ErrMessageRateLimited, Message: "You are sending messages too quickly. Please slow down."},

	ErrInvalidJoin:    {Code: ErrInvalidJoin, Message: "Room ID and username are required and must be at most %d characters."},
	ErrRoomLocked:     {Code: ErrRoomLocked, Message: "This room is locked."},
	ErrUserBanned:     {Code: ErrUserBanned, Message: "You are banned from this room."},
	ErrUsernameTaken:  {Code: ErrUsernameTaken, Message: "Username is already taken in this room."},
	ErrAlreadyJoined:  {Code: ErrAlreadyJoined, Message: "You have already joined a room."},
	ErrUserNotFound:   {Code: ErrUserNotFound, Message: "User %s not found in this room."},
	ErrTargetRequired: {Code: ErrTargetRequired, Message: "A target user is required."},
	ErrSelfTarget:     {Code: ErrSelfTarget, Message: "You cannot %s yourself."},

	ErrNotHost: {Code: ErrNotHost, Message: "Only the room host can do that.", Status: http.StatusForbidden},

	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}

/*
Package errs defines the relay's application error codes and the CustomError
type carried in error envelopes, websocket close reasons and HTTP responses.
*/
package errs

// 1xxx: request and frame handling
const (
	// ErrRateLimitExceeded indicates too many HTTP or connection attempts from one address.
	ErrRateLimitExceeded = 1007

	// ErrMessageRateLimited indicates a connection sent more frames than its window allows.
	ErrMessageRateLimited = 1008
)

// 2xxx: room membership and messaging
const (
	// ErrInvalidJoin indicates a join whose room id or username is empty or too long.
	ErrInvalidJoin = 2101

	// ErrRoomLocked indicates a join attempt on a locked room.
	ErrRoomLocked = 2102

	// ErrUserBanned indicates a join attempt with a username banned in that room.
	ErrUserBanned = 2103

	// ErrUsernameTaken indicates the username is already used by an occupant of the room.
	ErrUsernameTaken = 2104

	// ErrAlreadyJoined indicates a join from a connection that already holds membership.
	ErrAlreadyJoined = 2105

	// ErrUserNotFound indicates a DM or moderation target that is not in the sender's room.
	ErrUserNotFound = 2201

	// ErrTargetRequired indicates a kick or ban without a target user.
	ErrTargetRequired = 2202

	// ErrSelfTarget indicates a host trying to kick or ban themselves.
	ErrSelfTarget = 2203
)

// 3xxx: authorization
const (
	// ErrNotHost indicates an admin command from someone other than the room host.
	ErrNotHost = 3001
)

// 5xxx: internal
const (
	// ErrUnknown is the catch-all for unclassified failures.
	ErrUnknown = 5000
)

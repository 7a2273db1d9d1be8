package room

import "errors"

var (
	ErrTooManyRooms  = errors.New("room limit reached")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrRoomClosed    = errors.New("room is closed")
	ErrPlayerExists  = errors.New("player already in room")
	ErrPlayerUnknown = errors.New("player not in room")
	ErrInvalidPlayer = errors.New("invalid player")
	ErrInboxFull     = errors.New("room inbox full")
)

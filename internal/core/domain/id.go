package domain

import (
	"github.com/google/uuid"
)

type UserID uuid.UUID
type CallID uuid.UUID
type MessageID uuid.UUID

func NewUserID() UserID {
	return UserID(uuid.New())
}

func NewCallID() CallID {
	return CallID(uuid.New())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(id), nil
}

func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CallID{}, err
	}
	return CallID(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id CallID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

func (id UserID) IsZero() bool { return id == UserID{} }
func (id CallID) IsZero() bool { return id == CallID{} }

func (id UserID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id CallID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id MessageID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := parseText(b)
	if err != nil {
		return err
	}
	*id = UserID(parsed)
	return nil
}

func (id *CallID) UnmarshalText(b []byte) error {
	parsed, err := parseText(b)
	if err != nil {
		return err
	}
	*id = CallID(parsed)
	return nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	parsed, err := parseText(b)
	if err != nil {
		return err
	}
	*id = MessageID(parsed)
	return nil
}

// parseText accepts an empty string as the zero id.
func parseText(b []byte) (uuid.UUID, error) {
	if len(b) == 0 {
		return uuid.Nil, nil
	}
	return uuid.ParseBytes(b)
}

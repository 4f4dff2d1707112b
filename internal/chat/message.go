package chat

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ServerName prefixes every server-originated line.
const ServerName = "Server"

// MaxNameLength is the maximum display name length in runes.
const MaxNameLength = 32

// ID identifies a client for its whole lifetime.
// IDs are UUIDv7, so sorting them yields creation order.
type ID uuid.UUID

// SystemID is the sender of server-originated messages.
var SystemID = ID(uuid.Nil)

// NewID returns a fresh time-ordered ID.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func compareIDs(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Message is one decoded chat line and the client it came from.
type Message struct {
	Sender  ID
	Payload []byte
}

// IsSystem reports whether the message was generated by the server.
func (m Message) IsSystem() bool {
	return m.Sender == SystemID
}

// JoinedMessage is announced to the other members when name joins.
func JoinedMessage(name string) Message {
	return systemMessage(fmt.Sprintf("%s has joined the chatroom.", name))
}

// LeftMessage is announced to the remaining members when name quits.
func LeftMessage(name string) Message {
	return systemMessage(fmt.Sprintf("%s has left the chatroom.", name))
}

func systemMessage(text string) Message {
	return Message{
		Sender:  SystemID,
		Payload: []byte(ServerName + ": " + text),
	}
}

// ReadName reads the handshake frame carrying the client's display name.
func ReadName(ctx context.Context, conn Conn) (string, error) {
	data, err := conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return ParseName(data)
}

// ParseName validates a display name: valid UTF-8, no control characters,
// 1 to MaxNameLength runes after trimming surrounding whitespace.
func ParseName(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	name := strings.TrimSpace(string(data))
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return "", fmt.Errorf("%w: length %d not in 1..%d", ErrInvalidName, n, MaxNameLength)
	}
	if strings.ContainsFunc(name, isControl) {
		return "", fmt.Errorf("%w: contains control characters", ErrInvalidName)
	}
	return name, nil
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

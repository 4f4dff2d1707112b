package chat

import "errors"

var (
	// ErrDuplicateID is returned by Hub.Register when a client with the same ID
	// is already registered. Seeing it indicates a bug.
	ErrDuplicateID = errors.New("chat: duplicate client id")

	// ErrNotFound is returned by Hub.Unregister for a client that is not registered.
	// It is expected on repeated close paths and is not fatal.
	ErrNotFound = errors.New("chat: client not found")

	// ErrHubClosed is returned by Hub.Register after Hub.Shutdown.
	ErrHubClosed = errors.New("chat: hub is shut down")

	// ErrClientClosed is returned by Client.Send once the client is no longer open.
	ErrClientClosed = errors.New("chat: client closed")

	// ErrSlowConsumer is returned by Client.Send when the outbound queue is full.
	ErrSlowConsumer = errors.New("chat: outbound queue full")

	// ErrInvalidName is returned when the handshake frame is not a usable display name.
	ErrInvalidName = errors.New("chat: invalid display name")
)

// Package protocol implements the wire framing shared by the chat server and
// its clients.
//
// Every frame is a varint-delimited protobuf google.protobuf.BytesValue: the
// byte count of the encoded message followed by the message itself. The
// payload is carried in a length-delimited bytes field, so any byte sequence,
// including ones that look like a frame header, survives a round trip.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultMaxFrameSize is the frame size limit used when none is configured.
const DefaultMaxFrameSize = 64 << 10

// Quit is the directive a client sends to leave the chatroom.
const Quit = "QUIT"

var (
	// ErrFrameTooLarge is returned when a peer announces a frame above the limit.
	// The frame body is never buffered.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrMalformedFrame is returned when a frame body cannot be decoded.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)

// Encode encodes payload into a single self-delimiting frame.
func Encode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := protodelim.MarshalTo(&buf, wrapperspb.Bytes(payload)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes exactly one frame from data.
// Trailing bytes after the first frame are reported as ErrMalformedFrame.
func Decode(data []byte, maxFrameSize int) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	payload, err := ReadFrame(r, maxFrameSize)
	if err != nil {
		return nil, err
	}
	if r.Buffered() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, r.Buffered())
	}
	return payload, nil
}

// WriteFrame encodes payload and writes it to w with a single Write call,
// so a frame is never split across writes issued by different callers.
func WriteFrame(w io.Writer, payload []byte) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads the next frame from r.
//
// It returns io.EOF when the stream ends cleanly between frames and
// io.ErrUnexpectedEOF when it ends inside one. Other I/O errors are returned
// unchanged. A maxFrameSize <= 0 selects DefaultMaxFrameSize.
func ReadFrame(r *bufio.Reader, maxFrameSize int) ([]byte, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	opts := protodelim.UnmarshalOptions{MaxSize: int64(maxFrameSize)}

	var frame wrapperspb.BytesValue
	err := opts.UnmarshalFrom(r, &frame)
	if err == nil {
		return payloadOf(&frame), nil
	}

	var tooLarge *protodelim.SizeTooLargeError
	switch {
	case errors.As(err, &tooLarge):
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, tooLarge.Size, tooLarge.MaxSize)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, err
	case isDecodeError(err):
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	default:
		return nil, err
	}
}

// IsQuit reports whether payload is the QUIT directive.
// Surrounding whitespace, including a trailing newline, is ignored.
func IsQuit(payload []byte) bool {
	return string(bytes.TrimSpace(payload)) == Quit
}

func payloadOf(frame *wrapperspb.BytesValue) []byte {
	if v := frame.GetValue(); v != nil {
		return v
	}
	return []byte{}
}

// isDecodeError separates wire-format errors from transport errors.
// Every error produced by the protobuf runtime, varint header errors
// included, matches proto.Error; I/O errors from the reader do not.
func isDecodeError(err error) bool {
	return errors.Is(err, proto.Error)
}

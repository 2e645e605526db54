package tcp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	ProtocolJSON = "json"
	ProtocolCBOR = "cbor"

	lengthPrefixSize = 4
	maxMessageSize   = 65536

	// Larger CBOR frames end the session instead of being skipped.
	maxDiscardSize = 16 * maxMessageSize
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
)

// codec frames messages on one connection. Encode is safe for concurrent
// use; Decode must be called from a single goroutine.
type codec interface {
	Encode(v any) error
	// Decode reads the next message. Malformed payloads return an error
	// wrapping errMalformed and leave the stream usable.
	Decode(v any) error
}

var errMalformed = errors.New("malformed message")

func newCodec(protocol string, rw io.ReadWriter) (codec, error) {
	switch protocol {
	case "", ProtocolJSON:
		return newJSONCodec(rw), nil
	case ProtocolCBOR:
		return newCBORCodec(rw), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}
}

// jsonCodec exchanges one JSON document per line.
type jsonCodec struct {
	mu      sync.Mutex
	encoder *json.Encoder
	r       *bufio.Reader
}

func newJSONCodec(rw io.ReadWriter) *jsonCodec {
	return &jsonCodec{encoder: json.NewEncoder(rw), r: bufio.NewReaderSize(rw, 4096)}
}

func (c *jsonCodec) Encode(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(v)
}

// readLine returns the next line without its terminator. A line longer
// than maxMessageSize is read to its end and dropped.
func (c *jsonCodec) readLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := c.r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxMessageSize+2 {
				tooLong, line = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if tooLong || len(line) > maxMessageSize {
			return nil, fmt.Errorf("%w: %w: line exceeds %d bytes", errMalformed, ErrMessageTooLarge, maxMessageSize)
		}
		return line, nil
	}
}

func (c *jsonCodec) Decode(v any) error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// cborCodec exchanges CBOR documents behind a 4 byte big-endian length.
type cborCodec struct {
	mu sync.Mutex
	w  io.Writer
	r  io.Reader
}

func newCBORCodec(rw io.ReadWriter) *cborCodec {
	return &cborCodec{w: rw, r: bufio.NewReader(rw)}
}

func (c *cborCodec) Encode(v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), maxMessageSize)
	}

	frame := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[lengthPrefixSize:], data)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.w.Write(frame)
	return err
}

func (c *cborCodec) Decode(v any) error {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return fmt.Errorf("%w: %w", errMalformed, ErrMessageEmpty)
	}
	if length > maxDiscardSize {
		// no sane peer sends this; the framing is lost
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxDiscardSize)
	}
	if length > maxMessageSize {
		if _, err := io.CopyN(io.Discard, c.r, int64(length)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w: %d > %d", errMalformed, ErrMessageTooLarge, length, maxMessageSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return err
	}
	if err := cbor.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

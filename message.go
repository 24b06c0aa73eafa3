// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nobodyisme/cocaine-worker/packet"
)

// Message is the parsed format of one worker protocol message.
//
// A message carries an opcode, the identifier of the session it belongs to
// (0 for session-less messages such as HANDSHAKE, HEARTBEAT, and TERMINATE),
// and an opcode-specific payload.
type Message struct {
	Op      Opcode
	Session uint64
	Payload []byte
}

// Encode encodes m in binary format.
func (m Message) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 16+len(m.Payload)))
	if _, err := m.WriteTo(buf); err != nil {
		panic(fmt.Errorf("encoding message: %w", err))
	}
	return buf.Bytes()
}

// WriteTo writes the message to w in binary format. It satisfies io.WriterTo.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	buf := [16]byte{'C', 'W', protocolVersion, byte(m.Op)}
	binary.BigEndian.PutUint64(buf[4:], m.Session)
	binary.BigEndian.PutUint32(buf[12:], uint32(len(m.Payload)))
	nw, err := w.Write(buf[:])
	if err == nil && len(m.Payload) != 0 {
		var np int
		np, err = w.Write(m.Payload)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a message from r in binary format. It satisfies io.ReaderFrom.
func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	var buf [16]byte
	nr, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(nr), fmt.Errorf("short message header: %w", err)
	}
	if h := string(buf[:3]); h != "CW\x00" {
		return int64(nr), fmt.Errorf("invalid protocol header %q", h)
	}

	m.Op = Opcode(buf[3])
	m.Session = binary.BigEndian.Uint64(buf[4:])

	if psize := binary.BigEndian.Uint32(buf[12:]); psize > 0 {
		m.Payload = make([]byte, int(psize))
		var np int
		np, err = io.ReadFull(r, m.Payload)
		nr += np
		if err != nil {
			err = fmt.Errorf("short payload: %w", err)
		}
	} else {
		m.Payload = nil
	}

	return int64(nr), err
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	var pay string
	switch m.Op {
	case OpHandshake:
		var h Handshake
		if err := h.Decode(m.Payload); err == nil {
			pay = h.String()
		}
	case OpInvoke:
		var iv Invoke
		if err := iv.Decode(m.Payload); err == nil {
			pay = iv.String()
		}
	case OpError:
		var ei ErrorInfo
		if err := ei.Decode(m.Payload); err == nil {
			pay = ei.String()
		}
	case OpTerminate:
		var tr Terminate
		if err := tr.Decode(m.Payload); err == nil {
			pay = tr.String()
		}
	}
	if pay == "" {
		pay = fmt.Sprint(m.Payload)
	}
	return fmt.Sprintf("Message(%v, session=%d, %s)", m.Op, m.Session, pay)
}

const protocolVersion = 0

// Opcode describes the kind of a worker protocol message.
type Opcode byte

const (
	OpHandshake Opcode = 0 // identity announcement, worker to supervisor
	OpHeartbeat Opcode = 1 // periodic liveness signal, both directions
	OpTerminate Opcode = 2 // fatal shutdown notice, both directions
	OpInvoke    Opcode = 3 // open a session for the named event
	OpChunk     Opcode = 4 // one unit of payload data within a session
	OpError     Opcode = 5 // session-scoped error notification
	OpChoke     Opcode = 6 // normal end-of-stream for a session
)

func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "HANDSHAKE"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpTerminate:
		return "TERMINATE"
	case OpInvoke:
		return "INVOKE"
	case OpChunk:
		return "CHUNK"
	case OpError:
		return "ERROR"
	case OpChoke:
		return "CHOKE"
	default:
		return fmt.Sprintf("OPCODE:%d", byte(o))
	}
}

// Handshake is the payload format for a HANDSHAKE message.
type Handshake struct {
	ID string // the worker identity assigned by the supervisor
}

// Encode encodes the handshake payload in binary format.
func (h Handshake) Encode() []byte {
	var b packet.Builder
	b.PutString(h.ID)
	return b.Bytes()
}

// Decode decodes data into a HANDSHAKE payload.
func (h *Handshake) Decode(data []byte) error {
	s := packet.NewScanner(data)
	id, err := s.String()
	if err != nil {
		return fmt.Errorf("invalid handshake payload: %w", err)
	}
	h.ID = id
	return nil
}

// String returns a human-friendly rendering of the handshake.
func (h Handshake) String() string { return fmt.Sprintf("Handshake(ID=%q)", h.ID) }

// Invoke is the payload format for an INVOKE message.
type Invoke struct {
	Event string // the event name to dispatch
}

// Encode encodes the invoke payload in binary format.
func (v Invoke) Encode() []byte {
	var b packet.Builder
	b.PutString(v.Event)
	return b.Bytes()
}

// Decode decodes data into an INVOKE payload.
func (v *Invoke) Decode(data []byte) error {
	s := packet.NewScanner(data)
	event, err := s.String()
	if err != nil {
		return fmt.Errorf("invalid invoke payload: %w", err)
	}
	v.Event = event
	return nil
}

// String returns a human-friendly rendering of the invocation.
func (v Invoke) String() string { return fmt.Sprintf("Invoke(Event=%q)", v.Event) }

// ErrorInfo is the payload format for an ERROR message.
type ErrorInfo struct {
	Code int32
	Text string
}

// Encode encodes the error payload in binary format. The text is truncated
// to maxErrorTextLen bytes at a UTF-8 boundary.
func (e ErrorInfo) Encode() []byte {
	var b packet.Builder
	b.Int32(e.Code)
	b.PutString(truncate(e.Text, maxErrorTextLen))
	return b.Bytes()
}

// Decode decodes data into an ERROR payload.
func (e *ErrorInfo) Decode(data []byte) error {
	s := packet.NewScanner(data)
	code, err := s.Int32()
	if err != nil {
		return fmt.Errorf("invalid error payload: %w", err)
	}
	text, err := s.String()
	if err != nil {
		return fmt.Errorf("invalid error payload: %w", err)
	}
	e.Code = code
	e.Text = text
	return nil
}

// String returns a human-friendly rendering of the error notification.
func (e ErrorInfo) String() string { return fmt.Sprintf("Error(Code=%d, %q)", e.Code, e.Text) }

// Terminate is the payload format for a TERMINATE message.
type Terminate struct {
	Errno  int32
	Reason string
}

// Encode encodes the terminate payload in binary format.
func (t Terminate) Encode() []byte {
	var b packet.Builder
	b.Int32(t.Errno)
	b.PutString(truncate(t.Reason, maxErrorTextLen))
	return b.Bytes()
}

// Decode decodes data into a TERMINATE payload.
func (t *Terminate) Decode(data []byte) error {
	s := packet.NewScanner(data)
	errno, err := s.Int32()
	if err != nil {
		return fmt.Errorf("invalid terminate payload: %w", err)
	}
	reason, err := s.String()
	if err != nil {
		return fmt.Errorf("invalid terminate payload: %w", err)
	}
	t.Errno = errno
	t.Reason = reason
	return nil
}

// String returns a human-friendly rendering of the termination notice.
func (t Terminate) String() string {
	return fmt.Sprintf("Terminate(Errno=%d, %q)", t.Errno, t.Reason)
}

// maxErrorTextLen bounds the diagnostic text carried on ERROR and TERMINATE
// messages so a runaway error string cannot bloat the wire.
const maxErrorTextLen = 65535

// truncate returns a prefix of a UTF-8 string s, having length no greater
// than n bytes.  If s exceeds this length, it is truncated at a point ≤ n so
// that the result does not end in a partial UTF-8 encoding.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}

	// Back up until we find the beginning of a UTF-8 encoding.
	for n > 0 && s[n-1]&0xc0 == 0x80 { // 0x10... is a continuation byte
		n--
	}

	// If we're at the beginning of a multi-byte encoding, back up one more to
	// skip it. It's possible the value was already complete, but it's simpler
	// if we only have to check in one direction.
	//
	// Otherwise, we have a single-byte code (0x00... or 0x01...).
	if n > 0 && s[n-1]&0xc0 == 0xc0 { // 0x11... starts a multibyte encoding
		n--
	}
	return s[:n]
}

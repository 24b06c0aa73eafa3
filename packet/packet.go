// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

// Package packet provides support for encoding and decoding the binary
// payloads of worker protocol messages.
package packet

import (
	"encoding/binary"
	"io"
)

// A Builder is a buffer that accumulates the fields of a message payload.
// The zero value is ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Byte appends a single byte to b.
func (b *Builder) Byte(v byte) { b.buf = append(b.buf, v) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// Uint64 appends v to b in big-endian order.
func (b *Builder) Uint64(v uint64) { b.buf = binary.BigEndian.AppendUint64(b.buf, v) }

// Int32 appends v to b as its two's complement big-endian representation.
func (b *Builder) Int32(v int32) { b.Uint32(uint32(v)) }

// Put appends the specified bytes to b without framing.
func (b *Builder) Put(vs []byte) { b.buf = append(b.buf, vs...) }

// PutString appends a length-prefixed string to b. The length is encoded as
// an unsigned varint.
func (b *Builder) PutString(s string) {
	b.buf = binary.AppendUvarint(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
}

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the reported slice, and the caller must not retain or modify
// its contents unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// A Scanner reads encoded fields from the contents of a message payload.
// Incomplete or truncated values report [io.ErrUnexpectedEOF].
type Scanner struct {
	rest []byte
}

// NewScanner constructs a [Scanner] that consumes data from input.  The
// scanner does not modify the contents of input, but retains slices into it,
// so the caller should ensure it is not modified while the scanner is in use.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

// Byte scans a single byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	out := s.rest[0]
	s.rest = s.rest[1:]
	return out, nil
}

// Uint32 scans a big-endian uint32 from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	if len(s.rest) < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	out := binary.BigEndian.Uint32(s.rest)
	s.rest = s.rest[4:]
	return out, nil
}

// Uint64 scans a big-endian uint64 from the head of the input.
func (s *Scanner) Uint64() (uint64, error) {
	if len(s.rest) < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	out := binary.BigEndian.Uint64(s.rest)
	s.rest = s.rest[8:]
	return out, nil
}

// Int32 scans a big-endian two's complement int32 from the head of the input.
func (s *Scanner) Int32() (int32, error) {
	v, err := s.Uint32()
	return int32(v), err
}

// String scans a length-prefixed string from the head of the input. The
// length is encoded as an unsigned varint.
func (s *Scanner) String() (string, error) {
	n, nr := binary.Uvarint(s.rest)
	if nr <= 0 || n > uint64(len(s.rest)-nr) {
		return "", io.ErrUnexpectedEOF
	}
	out := string(s.rest[nr : nr+int(n)])
	s.rest = s.rest[nr+int(n):]
	return out, nil
}

// Rest returns all remaining unconsumed input, leaving the scanner empty.
func (s *Scanner) Rest() []byte {
	out := s.rest
	s.rest = nil
	return out
}

// Len reports the number of unconsumed bytes remaining in the input.
func (s *Scanner) Len() int { return len(s.rest) }

package aesrw

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

var (
	ErrKeySize          = errors.New("aesrw: key must be 16 bytes")
	ErrIVSize           = errors.New("aesrw: iv must be 16 bytes")
	ErrNegativeOffset   = errors.New("aesrw: negative header offset")
	ErrNegativePosition = errors.New("aesrw: negative position")
	ErrWhence           = errors.New("aesrw: invalid whence")
)

// Stream is a seekable CTR view over a Source. Byte i of the view is
//
//	src[i+offset] ^ E_key(iv + i/16)[i%16]
//
// where the counter is a little-endian 128-bit integer. The same construction
// encrypts and decrypts. Stream only reads and seeks; it has no write side.
//
// A Stream is not safe for concurrent use. Open one Stream per goroutine, or
// guard it with a lock.
type Stream struct {
	src    Source
	offset int64
	engine *Engine

	iv      CTR
	ctr     CTR
	ks      [BlockSize]byte
	ksBlock int64 // block index ks was generated for

	pos int64
}

// assert *Stream implements io.ReadSeeker
var _ io.ReadSeeker = (*Stream)(nil)

func NewStream(src Source, key, iv []byte, headerOffset int64) (*Stream, error) {
	if headerOffset < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeOffset, headerOffset)
	}
	engine, err := NewEngine(key)
	if err != nil {
		return nil, err
	}
	initial, err := CTRFromBytes(iv)
	if err != nil {
		return nil, fmt.Errorf("%w: got %d bytes", err, len(iv))
	}

	s := &Stream{
		src:    src,
		offset: headerOffset,
		engine: engine,
		iv:     initial,
	}
	s.reset(0)
	return s, nil
}

func (s *Stream) reset(pos int64) {
	s.pos = pos
	s.ksBlock = pos / BlockSize
	s.ctr = Reset(s.iv, uint64(s.ksBlock))
	s.engine.EncryptBlock(&s.ks, s.ctr)
}

// Length is the size of the ciphered region: the source size minus the header.
func (s *Stream) Length() (int64, error) {
	size, err := s.src.Size()
	if err != nil {
		return 0, err
	}
	if size < s.offset {
		return 0, nil
	}
	return size - s.offset, nil
}

func (s *Stream) Position() int64 {
	return s.pos
}

// SetPosition moves the cursor and rebuilds the counter and keystream for it.
// Positions past Length are allowed; reads there return io.EOF.
func (s *Stream) SetPosition(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("%w: %d", ErrNegativePosition, pos)
	}
	s.reset(pos)
	return nil
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		length, err := s.Length()
		if err != nil {
			return s.pos, err
		}
		target = length + offset
	default:
		return s.pos, fmt.Errorf("%w: %d", ErrWhence, whence)
	}

	if err := s.SetPosition(target); err != nil {
		return s.pos, err
	}
	return s.pos, nil
}

// Read fills p with transformed bytes starting at Position. At or past Length
// it returns 0, io.EOF and leaves the stream untouched. That io.EOF is the
// usual io.Reader end-of-stream signal and not a failure: io.Copy and
// io.ReadAll stop on it without reporting an error. Source errors other than
// io.EOF are returned as is, after the bytes that did arrive are transformed.
func (s *Stream) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	length, err := s.Length()
	if err != nil {
		return 0, err
	}
	remaining := length - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err = s.src.ReadAt(p, s.pos+s.offset)
	s.xor(p[:n])

	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (s *Stream) xor(p []byte) {
	for len(p) > 0 {
		if block := s.pos / BlockSize; block != s.ksBlock {
			// reads only move forward, so this is always the next block
			s.ctr.Increment()
			s.ksBlock = block
			s.engine.EncryptBlock(&s.ks, s.ctr)
		}

		k := subtle.XORBytes(p, p, s.ks[s.pos%BlockSize:])
		p = p[k:]
		s.pos += int64(k)
	}
}

// Package fsgc reads and writes FSGC audio containers: an 8-byte tag
// followed by the payload under the CTR stream from aesrw.
package fsgc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/applepi-icpc/ghlcrypt/aesrw"
	"github.com/applepi-icpc/ghlcrypt/keyring"
	log "github.com/sirupsen/logrus"
)

const HeaderSize = 8

var Magic = [HeaderSize]byte{'F', 'S', 'G', 'C', 5, 0, 0, 0}

var (
	ErrNotFSGC  = errors.New("fsgc: missing FSGC header")
	ErrSameFile = errors.New("fsgc: input and output are the same file")
)

func WriteHeader(w io.Writer) error {
	_, err := w.Write(Magic[:])
	return err
}

func CheckHeader(r io.ReaderAt) error {
	var head [HeaderSize]byte
	n, err := r.ReadAt(head[:], 0)
	if n < HeaderSize {
		if err == nil || err == io.EOF {
			return ErrNotFSGC
		}
		return err
	}
	if !bytes.Equal(head[:], Magic[:]) {
		return fmt.Errorf("%w: got [% 02x]", ErrNotFSGC, head[:])
	}
	return nil
}

// Encrypt writes the FSGC tag followed by the encrypted contents of src.
func Encrypt(dst io.Writer, src aesrw.Source, p keyring.Pair) (int64, error) {
	s, err := aesrw.NewStream(src, p.Key[:], p.IV[:], 0)
	if err != nil {
		return 0, err
	}
	if err := WriteHeader(dst); err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, s)
	return n + HeaderSize, err
}

// Decrypt writes the payload of the container src, without its tag.
func Decrypt(dst io.Writer, src aesrw.Source, p keyring.Pair) (int64, error) {
	s, err := aesrw.NewStream(src, p.Key[:], p.IV[:], HeaderSize)
	if err != nil {
		return 0, err
	}
	return io.Copy(dst, s)
}

// Open returns a decrypting view of the container src, checking its tag first.
func Open(src aesrw.Source, p keyring.Pair) (*aesrw.Stream, error) {
	if err := CheckHeader(src); err != nil {
		return nil, err
	}
	return aesrw.NewStream(src, p.Key[:], p.IV[:], HeaderSize)
}

type Direction int

const (
	DirEncrypt Direction = iota
	DirDecrypt
)

func (d Direction) String() string {
	switch d {
	case DirEncrypt:
		return "encrypt"
	case DirDecrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "encrypt":
		return DirEncrypt, nil
	case "decrypt":
		return DirDecrypt, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

type Options struct {
	// Force skips the header check when decrypting.
	Force bool
}

// TransformFile encrypts or decrypts the file at in into out. On failure the
// partial output is removed. out must not name the same file as in, through
// any path or link.
func TransformFile(dir Direction, in, out string, p keyring.Pair, opts Options) (n int64, err error) {
	src, err := aesrw.OpenFile(in)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	inInfo, err := src.F.Stat()
	if err != nil {
		return 0, err
	}
	if outInfo, err := os.Stat(out); err == nil && os.SameFile(inInfo, outInfo) {
		return 0, fmt.Errorf("%w: %s", ErrSameFile, out)
	}

	if dir == DirDecrypt && !opts.Force {
		if err := CheckHeader(src); err != nil {
			return 0, fmt.Errorf("%s: %w", in, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), os.FileMode(0755)); err != nil {
		return 0, err
	}
	dst, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return 0, err
	}
	defer func() {
		closeErr := dst.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			if removeErr := os.Remove(out); removeErr != nil {
				log.WithFields(log.Fields{
					"error": removeErr,
					"path":  out,
				}).Warn("Failed to withdraw partial output")
			}
		}
	}()

	switch dir {
	case DirEncrypt:
		n, err = Encrypt(dst, src, p)
	case DirDecrypt:
		n, err = Decrypt(dst, src, p)
	default:
		err = fmt.Errorf("invalid direction: %d", dir)
	}
	return
}

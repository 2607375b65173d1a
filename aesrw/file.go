package aesrw

import (
	"io"
	"os"
)

type Sizer interface {
	Size() (int64, error)
}

// Source is what a Stream reads from: positioned reads plus a known size.
type Source interface {
	io.ReaderAt
	Sizer
}

type OSFile struct {
	F *os.File
}

func OpenFile(path string) (*OSFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &OSFile{F: f}, nil
}

func (o *OSFile) Size() (int64, error) {
	stat, err := o.F.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (o *OSFile) ReadAt(p []byte, off int64) (n int, err error) {
	return o.F.ReadAt(p, off)
}

func (o *OSFile) Close() error {
	return o.F.Close()
}

// assert *OSFile implements Source
var _ Source = (*OSFile)(nil)

// Package wemfs mounts a directory of FSGC containers as a read-only
// filesystem of decrypted payloads.
package wemfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/applepi-icpc/ghlcrypt/aesrw"
	"github.com/applepi-icpc/ghlcrypt/fsgc"
	"github.com/applepi-icpc/ghlcrypt/keyring"
	"github.com/billziss-gh/cgofuse/fuse"
	"github.com/ricochet2200/go-disk-usage/du"
	log "github.com/sirupsen/logrus"
)

const (
	FileBlockSize = 4096
	NameMax       = 255

	invalidFh = ^uint64(0)
)

// handle is one open container. Its stream is shared by every read on the
// handle, so reads take the lock.
type handle struct {
	mu     sync.Mutex
	file   *aesrw.OSFile
	stream *aesrw.Stream
}

type WemFS struct {
	fuse.FileSystemBase
	mu sync.Mutex

	rootDir string // root dir on actual file system
	pair    keyring.Pair
	uid     uint32
	gid     uint32

	handles map[uint64]*handle
	nextFh  uint64
}

func NewWemFS(rootDir string, pair keyring.Pair) (*WemFS, error) {
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", rootDir)
	}
	return &WemFS{
		rootDir: rootDir,
		pair:    pair,
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
		handles: make(map[uint64]*handle),
	}, nil
}

func (fs *WemFS) actualPath(path string) string {
	return filepath.Join(fs.rootDir, filepath.FromSlash(path))
}

func errnoOf(err error) int {
	switch {
	case os.IsNotExist(err):
		return -fuse.ENOENT
	case os.IsPermission(err):
		return -fuse.EACCES
	default:
		return -fuse.EIO
	}
}

// fillStat describes a backing file the way the mount shows it: read-only,
// and for regular files, without the container tag.
func (fs *WemFS) fillStat(info os.FileInfo, stat *fuse.Stat_t) {
	mtim := fuse.NewTimespec(info.ModTime())
	*stat = fuse.Stat_t{
		Nlink:    1,
		Uid:      fs.uid,
		Gid:      fs.gid,
		Atim:     mtim,
		Mtim:     mtim,
		Ctim:     mtim,
		Birthtim: mtim,
		Blksize:  FileBlockSize,
	}

	switch {
	case info.IsDir():
		stat.Mode = fuse.S_IFDIR | 0555
		stat.Nlink = 2
	case info.Mode()&os.ModeSymlink != 0:
		// links are passed through, so the size stays the target length
		// Readlink returns and no header is subtracted
		stat.Mode = fuse.S_IFLNK | 0444
		stat.Size = info.Size()
	default:
		stat.Mode = fuse.S_IFREG | 0444
		size := info.Size() - fsgc.HeaderSize
		if size < 0 {
			size = 0
		}
		stat.Size = size
	}
	stat.Blocks = (stat.Size + 511) / 512
}

func (fs *WemFS) Statfs(path string, stat *fuse.Statfs_t) (errno int) {
	var err error
	defer Trace(path)(&err, &errno)

	usage := du.NewDiskUsage(fs.rootDir)

	stat.Bsize = FileBlockSize
	stat.Frsize = FileBlockSize
	stat.Blocks = usage.Size() / FileBlockSize
	stat.Bfree = usage.Free() / FileBlockSize
	stat.Bavail = usage.Available() / FileBlockSize
	stat.Namemax = NameMax
	stat.Flag = 1 // ST_RDONLY

	return
}

func (fs *WemFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) (errno int) {
	var err error
	defer Trace(path, fh)(&err, &errno)

	info, err := os.Lstat(fs.actualPath(path))
	if err != nil {
		errno = errnoOf(err)
		return
	}
	fs.fillStat(info, stat)
	return
}

func (fs *WemFS) Readlink(path string) (errno int, target string) {
	var err error
	defer Trace(path)(&err, &errno, &target)

	target, err = os.Readlink(fs.actualPath(path))
	if err != nil {
		errno = errnoOf(err)
	}
	return
}

func (fs *WemFS) openHandle(path string) (*handle, error) {
	f, err := aesrw.OpenFile(fs.actualPath(path))
	if err != nil {
		return nil, err
	}
	s, err := fsgc.Open(f, fs.pair)
	if err != nil {
		f.Close()
		log.WithFields(log.Fields{
			"error": err,
			"path":  path,
		}).Warn("Refusing to open a file that is not a container")
		return nil, err
	}
	return &handle{file: f, stream: s}, nil
}

func (fs *WemFS) Open(path string, flags int) (errno int, fh uint64) {
	var err error
	defer Trace(path, flags)(&err, &errno, &fh)

	fh = invalidFh
	if flags&fuse.O_ACCMODE != fuse.O_RDONLY {
		errno = -fuse.EROFS
		return
	}

	h, err := fs.openHandle(path)
	if err != nil {
		errno = errnoOf(err)
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh = fs.nextFh
	fs.nextFh++
	fs.handles[fh] = h
	return
}

func (fs *WemFS) getHandle(fh uint64) *handle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.handles[fh]
}

func (h *handle) readAt(buffer []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.stream.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(h.stream, buffer)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

func (fs *WemFS) Read(path string, buffer []byte, offset int64, fh uint64) (n int) {
	var err error
	defer Trace(path, fmt.Sprintf("buffer[%d]", len(buffer)), offset, fh)(&err, &n)

	h := fs.getHandle(fh)
	if h == nil {
		// read without an open handle, e.g. from a path-only caller
		h, err = fs.openHandle(path)
		if err != nil {
			n = errnoOf(err)
			return
		}
		defer h.file.Close()
	}

	n, err = h.readAt(buffer, offset)
	if err != nil {
		n = -fuse.EIO
	}
	return
}

func (fs *WemFS) Release(path string, fh uint64) (errno int) {
	var err error
	defer Trace(path, fh)(&err, &errno)

	fs.mu.Lock()
	h, ok := fs.handles[fh]
	delete(fs.handles, fh)
	fs.mu.Unlock()

	if !ok {
		errno = -fuse.EBADF
		return
	}
	err = h.file.Close()
	if err != nil {
		errno = -fuse.EIO
	}
	return
}

func (fs *WemFS) Opendir(path string) (errno int, fh uint64) {
	var err error
	defer Trace(path)(&err, &errno, &fh)

	fh = invalidFh
	info, err := os.Stat(fs.actualPath(path))
	if err != nil {
		errno = errnoOf(err)
		return
	}
	if !info.IsDir() {
		errno = -fuse.ENOTDIR
	}
	return
}

func (fs *WemFS) Readdir(path string,
	fill func(name string, stat *fuse.Stat_t, ofst int64) bool,
	offset int64, fh uint64) (errno int) {
	var err error
	defer Trace(path, offset, fh)(&err, &errno)

	entries, err := os.ReadDir(fs.actualPath(path))
	if err != nil {
		errno = errnoOf(err)
		return
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, entry := range entries {
		info, infoErr := entry.Info()
		if infoErr != nil {
			log.WithFields(log.Fields{
				"error": infoErr,
				"name":  entry.Name(),
			}).Warn("Skipping unreadable entry")
			continue
		}
		stat := &fuse.Stat_t{}
		fs.fillStat(info, stat)
		if !fill(entry.Name(), stat, 0) {
			break
		}
	}
	return
}

// Everything below would change the backing directory.

func (fs *WemFS) Write(path string, buffer []byte, offset int64, fh uint64) (n int) {
	var err error
	defer Trace(path, fmt.Sprintf("buffer[%d]", len(buffer)), offset, fh)(&err, &n)
	return -fuse.EROFS
}

func (fs *WemFS) Create(path string, flags int, mode uint32) (errno int, fh uint64) {
	var err error
	defer Trace(path, flags, mode)(&err, &errno, &fh)
	return -fuse.EROFS, invalidFh
}

func (fs *WemFS) Truncate(path string, size int64, fh uint64) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Mknod(path string, mode uint32, dev uint64) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Mkdir(path string, mode uint32) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Unlink(path string) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Rmdir(path string) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Link(oldpath string, newpath string) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Symlink(target string, newpath string) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Rename(oldpath string, newpath string) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Chmod(path string, mode uint32) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Chown(path string, uid uint32, gid uint32) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Utimens(path string, tmsp []fuse.Timespec) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Setxattr(path string, name string, value []byte, flags int) (errno int) {
	return -fuse.EROFS
}

func (fs *WemFS) Removexattr(path string, name string) (errno int) {
	return -fuse.EROFS
}

// Destroy closes handles the kernel never released.
func (fs *WemFS) Destroy() {
	if n := fs.OpenCount(); n > 0 {
		log.WithField("handles", n).Warn("Closing handles left open at unmount")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for fh, h := range fs.handles {
		if err := h.file.Close(); err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"fh":    fh,
			}).Error("Failed to close handle")
		}
		delete(fs.handles, fh)
	}
}

// OpenCount is the number of handles currently open.
func (fs *WemFS) OpenCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.handles)
}

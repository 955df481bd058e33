package san

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// FileBackend serves blocks from a disk image file.
type FileBackend struct {
	f       *os.File
	blksize int
	blocks  uint64
}

// OpenFile opens a disk image. Images with an .iso suffix are treated as
// CD-ROM images with 2048-byte blocks; everything else is 512.
func OpenFile(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		// fall back to read-only; writes will fail at the OS layer
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not open image")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "could not stat image")
	}
	blksize := 512
	if strings.HasSuffix(strings.ToLower(path), ".iso") {
		blksize = ISOBlockSize
	}
	return &FileBackend{
		f:       f,
		blksize: blksize,
		blocks:  uint64(info.Size()) / uint64(blksize),
	}, nil
}

func (b *FileBackend) checkRange(lba uint64, count uint32) error {
	if lba+uint64(count) > b.blocks {
		return errors.Errorf("range %#x+%d outside device (%d blocks)",
			lba, count, b.blocks)
	}
	return nil
}

func (b *FileBackend) ReadBlocks(lba uint64, count uint32, p []byte) error {
	if err := b.checkRange(lba, count); err != nil {
		return err
	}
	n := int(count) * b.blksize
	_, err := b.f.ReadAt(p[:n], int64(lba)*int64(b.blksize))
	return errors.Wrap(err, "image read failed")
}

func (b *FileBackend) WriteBlocks(lba uint64, count uint32, p []byte) error {
	if err := b.checkRange(lba, count); err != nil {
		return err
	}
	n := int(count) * b.blksize
	_, err := b.f.WriteAt(p[:n], int64(lba)*int64(b.blksize))
	return errors.Wrap(err, "image write failed")
}

func (b *FileBackend) Reset() error {
	return nil
}

func (b *FileBackend) Capacity() uint64 {
	return b.blocks
}

func (b *FileBackend) BlockSize() int {
	return b.blksize
}

func (b *FileBackend) Close() error {
	return b.f.Close()
}

// Open is the default Opener: a "file:" URI or a bare path names a disk
// image on the local filesystem.
func Open(uri string) (Backend, error) {
	path := strings.TrimPrefix(uri, "file:")
	return OpenFile(path)
}

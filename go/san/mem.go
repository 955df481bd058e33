package san

import (
	"github.com/pkg/errors"
)

// MemBackend serves blocks from memory. It doubles as the mock device
// for exercising the emulation without real images: transfers are
// recorded and failures can be injected.
type MemBackend struct {
	Blksize int
	Data    []byte

	// CapacityBlocks overrides the reported capacity, emulating a
	// device larger than its backing buffer; reads beyond the buffer
	// return zeros and writes there are discarded.
	CapacityBlocks uint64

	// failure injection
	FailReads  bool
	FailWrites bool
	FailReset  bool

	// recorded activity
	Resets    int
	LastLBA   uint64
	LastCount uint32

	// optional hardware identity for EDD describe
	Desc *Description
}

// NewMemBackend returns a zero-filled device of the given dimensions.
func NewMemBackend(blksize int, blocks uint64) *MemBackend {
	return &MemBackend{
		Blksize: blksize,
		Data:    make([]byte, int(blocks)*blksize),
	}
}

func (b *MemBackend) checkRange(lba uint64, count uint32) error {
	if lba+uint64(count) > b.Capacity() {
		return errors.Errorf("range %#x+%d outside device", lba, count)
	}
	return nil
}

func (b *MemBackend) ReadBlocks(lba uint64, count uint32, p []byte) error {
	b.LastLBA, b.LastCount = lba, count
	if b.FailReads {
		return errors.New("injected read failure")
	}
	if err := b.checkRange(lba, count); err != nil {
		return err
	}
	n := int(count) * b.Blksize
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	if off := lba * uint64(b.Blksize); off < uint64(len(b.Data)) {
		copy(p[:n], b.Data[off:])
	}
	return nil
}

func (b *MemBackend) WriteBlocks(lba uint64, count uint32, p []byte) error {
	b.LastLBA, b.LastCount = lba, count
	if b.FailWrites {
		return errors.New("injected write failure")
	}
	if err := b.checkRange(lba, count); err != nil {
		return err
	}
	n := int(count) * b.Blksize
	if off := lba * uint64(b.Blksize); off < uint64(len(b.Data)) {
		copy(b.Data[off:], p[:n])
	}
	return nil
}

func (b *MemBackend) Reset() error {
	b.Resets++
	if b.FailReset {
		return errors.New("injected reset failure")
	}
	return nil
}

func (b *MemBackend) Capacity() uint64 {
	if b.CapacityBlocks != 0 {
		return b.CapacityBlocks
	}
	return uint64(len(b.Data) / b.Blksize)
}

func (b *MemBackend) BlockSize() int {
	return b.Blksize
}

func (b *MemBackend) Close() error {
	return nil
}

func (b *MemBackend) Describe() (*Description, error) {
	if b.Desc == nil {
		return nil, errors.New("no hardware identity")
	}
	return b.Desc, nil
}

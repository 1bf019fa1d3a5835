package device

import (
	"fmt"
	"unsafe"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/simd"
	"github.com/segmentio/asm/mem"
)

// Buffer is a region of device global memory. Host code must not touch a
// buffer's contents directly; it goes through CopyToDevice, CopyFromDevice
// and Memset. Kernels access the contents through Bytes and Uint32s.
type Buffer struct {
	data    []byte
	backing []byte
	size    int
	freed   bool
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int { return b.size }

// Bytes returns the kernel-side view of the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Uint32s returns the kernel-side view of the buffer as 32-bit words, in
// host byte order. Trailing bytes that do not fill a word are not covered.
func (b *Buffer) Uint32s() []uint32 {
	if len(b.data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

// AsBytes reinterprets a host word slice as bytes so it can be the
// destination or source of a transfer.
func AsBytes(words []uint32) []byte {
	if len(words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), 4*len(words))
}

// Malloc allocates n bytes of device memory. The contents are unspecified
// until written. Malloc fails with an OOM error when the allocation would
// exceed the device memory limit.
func (d *Device) Malloc(n int) (*Buffer, error) {
	if err := d.checkLive(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("device: malloc of negative size %d", n))
	}
	d.memMu.Lock()
	if d.allocated+int64(n) > d.cfg.MemoryLimit {
		allocated := d.allocated
		d.memMu.Unlock()
		return nil, errors.E(errors.OOM, errors.Fatal,
			fmt.Sprintf("device: malloc %d bytes: %d of %d bytes in use", n, allocated, d.cfg.MemoryLimit))
	}
	d.allocated += int64(n)
	d.live++
	d.memMu.Unlock()

	// Round the backing store up to a word so that Uint32s never sees a
	// misaligned or short slice.
	backing := d.pool.Get(roundUp(n, 8))
	return &Buffer{data: backing[:n:n], backing: backing, size: n}, nil
}

// Free returns b to the device. Free waits for previously submitted work,
// since a running kernel may still reference b. Freeing a buffer twice is a
// no-op.
func (d *Device) Free(b *Buffer) error {
	if b == nil {
		return nil
	}
	// A failed launch must not leak memory, so the sticky error is reported
	// but the buffer is released regardless.
	var err error
	if !d.released.Load() {
		err = d.Synchronize()
	}
	d.memMu.Lock()
	if b.freed {
		d.memMu.Unlock()
		return err
	}
	b.freed = true
	d.allocated -= int64(b.size)
	d.live--
	d.memMu.Unlock()
	d.pool.Put(b.backing)
	b.data, b.backing = nil, nil
	return err
}

// CopyToDevice copies src into the start of dst. It blocks until the copy
// has been performed on the stream.
func (d *Device) CopyToDevice(dst *Buffer, src []byte) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	if len(src) > dst.Len() {
		return errors.E(errors.Invalid, fmt.Sprintf("device: copy of %d bytes into %d byte buffer", len(src), dst.Len()))
	}
	return d.stream.call(func() error {
		n := mem.Copy(dst.data, src)
		d.stats.bytesUploaded.Add(int64(n))
		return nil
	})
}

// CopyFromDevice copies the first len(dst) bytes of src into dst. It blocks
// until all previously submitted work has completed.
func (d *Device) CopyFromDevice(dst []byte, src *Buffer) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	if len(dst) > src.Len() {
		return errors.E(errors.Invalid, fmt.Sprintf("device: copy of %d bytes from %d byte buffer", len(dst), src.Len()))
	}
	return d.stream.call(func() error {
		n := mem.Copy(dst, src.data)
		d.stats.bytesDownloaded.Add(int64(n))
		return nil
	})
}

// Memset fills b with v.
func (d *Device) Memset(b *Buffer, v byte) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	return d.stream.call(func() error {
		if v == 0 {
			clear(b.data)
		} else {
			simd.Memset8(b.data, v)
		}
		log.Debug.Printf("device: memset %d bytes to %#x", b.size, v)
		return nil
	})
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

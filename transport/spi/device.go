package spi

import (
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"golang.org/x/sys/unix"
)

const spiIOCMagic = 'k'

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	len     uint32
	speedHz uint32

	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNBits        uint8
	rxNBits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

var (
	spiIOCWRMode32     = ioctl.IOW(spiIOCMagic, 5, 4)
	spiIOCWRBitsPerWrd = ioctl.IOW(spiIOCMagic, 3, 1)
	spiIOCWRMaxSpeedHz = ioctl.IOW(spiIOCMagic, 4, 4)
)

func spiIOCMessage(n int) uintptr {
	return ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{})*uintptr(n))
}

// Device is a /dev/spidevX.Y handle configured for mode 0, 8 bits/word, at a
// fixed clock. It is written to in a vector of kernel-buffer-sized chunks.
type Device struct {
	fd    int
	speed uint32
}

// Open opens path in mode 0 at the given clock rate (Hz), 8 bits/word.
func Open(path string, speedHz uint32) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	var mode uint32 = 0 // SPI_MODE_0
	if err := ioctl.Ioctl(uintptr(fd), spiIOCWRMode32, uintptr(unsafe.Pointer(&mode))); err != nil {
		unix.Close(fd)
		return nil, err
	}
	bits := uint8(8)
	if err := ioctl.Ioctl(uintptr(fd), spiIOCWRBitsPerWrd, uintptr(unsafe.Pointer(&bits))); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(uintptr(fd), spiIOCWRMaxSpeedHz, uintptr(unsafe.Pointer(&speedHz))); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Device{fd: fd, speed: speedHz}, nil
}

// WriteChunks submits data as a single ioctl carrying one transfer per
// chunkSize-sized slice, so the kernel never sees a write larger than its
// configured SPI buffer.
func (d *Device) WriteChunks(data []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	if len(data) == 0 {
		return nil
	}
	var transfers []spiIOCTransfer
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		transfers = append(transfers, spiIOCTransfer{
			txBuf:       uint64(uintptr(unsafe.Pointer(&chunk[0]))),
			len:         uint32(len(chunk)),
			speedHz:     d.speed,
			bitsPerWord: 8,
		})
	}
	return ioctl.Ioctl(uintptr(d.fd), spiIOCMessage(len(transfers)), uintptr(unsafe.Pointer(&transfers[0])))
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

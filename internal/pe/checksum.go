package pe

import (
	"encoding/binary"
	"io"
)

// ChecksumInfo contains PE checksum verification results.
type ChecksumInfo struct {
	Stored   uint32
	Computed uint32
	Valid    bool
}

// checksumFieldOffset is the CheckSum field's offset in the optional header.
const checksumFieldOffset = 64

// VerifyChecksum calculates the checksum of the raw stream and compares it to
// the stored one. Virtual images are laid out differently from the file the
// checksum was computed over, so only the stored value is reported for them.
func (img *Image) VerifyChecksum() *ChecksumInfo {
	if !img.valid || !img.hasOptional {
		return nil
	}
	info := &ChecksumInfo{Stored: img.optional.CheckSum}

	// If checksum is 0, file is not checksummed (common for non-system files)
	if info.Stored == 0 || img.opts.IsVirtual {
		info.Valid = true
		return info
	}

	size, ok := img.streamSize()
	if !ok {
		return nil
	}
	offset := int64(img.peHeaderOffset) + 4 + fileHeaderSize + checksumFieldOffset
	computed, err := CalculatePEChecksum(rawReader{img}, size, offset)
	if err != nil {
		img.log.WithError(err).Debug("pe: checksum calculation failed")
		return nil
	}
	info.Computed = computed
	info.Valid = computed == info.Stored
	return info
}

// CalculatePEChecksum computes the PE image checksum over the first filesize
// bytes of r, treating the 4-byte field at checksumOffset (-1 for none) as zero.
func CalculatePEChecksum(r io.ReaderAt, filesize int64, checksumOffset int64) (uint32, error) {
	var sum uint64
	buf := make([]byte, 64*1024)

	for base := int64(0); base < filesize; base += int64(len(buf)) {
		chunk := buf
		if rem := filesize - base; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		n, err := r.ReadAt(chunk, base)
		if err != nil && err != io.EOF {
			return 0, err
		}
		// Missing bytes count as zero.
		clear(chunk[n:])
		if checksumOffset >= 0 {
			for pos := max(checksumOffset, base); pos < checksumOffset+4 && pos < base+int64(len(chunk)); pos++ {
				chunk[pos-base] = 0
			}
		}
		if len(chunk)%2 != 0 {
			chunk = append(chunk, 0)
		}

		for i := 0; i < len(chunk); i += 2 {
			sum += uint64(binary.LittleEndian.Uint16(chunk[i:]))
			sum = (sum & 0xFFFF) + (sum >> 16)
		}
	}

	sum = (sum & 0xFFFF) + (sum >> 16)
	return uint32(sum) + uint32(filesize), nil
}

// rawReader reads the stream without relocation patching.
type rawReader struct {
	img *Image
}

func (r rawReader) ReadAt(p []byte, off int64) (int, error) {
	n := r.img.readRaw(off, p)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (img *Image) streamSize() (int64, bool) {
	size, err := img.stream.Seek(0, io.SeekEnd)
	img.offset = -1
	if err != nil {
		return 0, false
	}
	return size, true
}

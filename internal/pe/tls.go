package pe

import "encoding/binary"

// TLSInfo contains TLS (Thread Local Storage) information. Addresses are
// virtual addresses as the reader sees them: rebased when the image was
// opened with a loaded base.
type TLSInfo struct {
	Callbacks             []uint64
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// IMAGE_TLS_DIRECTORY32 structure.
type tlsDirectory32 struct {
	StartAddressOfRawData uint32
	EndAddressOfRawData   uint32
	AddressOfIndex        uint32
	AddressOfCallBacks    uint32
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// IMAGE_TLS_DIRECTORY64 structure.
type tlsDirectory64 struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// maxTLSCallbacks bounds the callback array walk.
const maxTLSCallbacks = 100

// TLS reads the TLS directory, or returns nil when there is none or it
// cannot be read.
func (img *Image) TLS() *TLSInfo {
	dir := img.Directory(DirectoryTLS)
	if dir.IsEmpty() {
		return nil
	}
	off := img.RvaToOffset(dir.VirtualAddress)
	if off < 0 {
		img.log.WithField("rva", dir.VirtualAddress).Debug("pe: TLS directory is unmapped")
		return nil
	}

	info := &TLSInfo{}
	if img.IsPE64() {
		var tls tlsDirectory64
		if !img.readStruct(int64(off), &tls) {
			return nil
		}
		info.StartAddressOfRawData = tls.StartAddressOfRawData
		info.EndAddressOfRawData = tls.EndAddressOfRawData
		info.AddressOfIndex = tls.AddressOfIndex
		info.AddressOfCallBacks = tls.AddressOfCallBacks
		info.SizeOfZeroFill = tls.SizeOfZeroFill
		info.Characteristics = tls.Characteristics
	} else {
		var tls tlsDirectory32
		if !img.readStruct(int64(off), &tls) {
			return nil
		}
		info.StartAddressOfRawData = uint64(tls.StartAddressOfRawData)
		info.EndAddressOfRawData = uint64(tls.EndAddressOfRawData)
		info.AddressOfIndex = uint64(tls.AddressOfIndex)
		info.AddressOfCallBacks = uint64(tls.AddressOfCallBacks)
		info.SizeOfZeroFill = tls.SizeOfZeroFill
		info.Characteristics = tls.Characteristics
	}

	if info.AddressOfCallBacks != 0 {
		info.Callbacks = img.readTLSCallbacks(info.AddressOfCallBacks)
	}
	return info
}

// effectiveBase is the base that virtual addresses read from the image are
// relative to.
func (img *Image) effectiveBase() uint64 {
	if len(img.relocations) > 0 {
		return img.opts.LoadedBase
	}
	return img.optional.ImageBase
}

// readTLSCallbacks reads the NULL-terminated callback array at va.
func (img *Image) readTLSCallbacks(va uint64) []uint64 {
	base := img.effectiveBase()
	if va < base || va-base > 0x7FFFFFFF || va-base >= uint64(img.optional.SizeOfImage) {
		return nil
	}
	off := img.RvaToOffset(int32(va - base))
	if off < 0 {
		return nil
	}

	ptrSize := 4
	if img.IsPE64() {
		ptrSize = 8
	}
	var callbacks []uint64
	buf := make([]byte, ptrSize)
	for i := 0; i < maxTLSCallbacks; i++ {
		if img.ReadAtOffset(int64(off)+int64(i*ptrSize), buf) != ptrSize {
			break
		}
		var callback uint64
		if ptrSize == 8 {
			callback = binary.LittleEndian.Uint64(buf)
		} else {
			callback = uint64(binary.LittleEndian.Uint32(buf))
		}
		if callback == 0 {
			break
		}
		callbacks = append(callbacks, callback)
	}
	return callbacks
}

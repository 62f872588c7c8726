package pe

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
)

func TestCalculatePEChecksum(t *testing.T) {
	tests := []struct {
		name           string
		data           []byte
		checksumOffset int64
		want           uint32
	}{
		{
			name:           "Simple 8-byte file",
			data:           []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00},
			checksumOffset: -1, // No checksum to skip
			want:           11, // 1 + 2 + filesize(8)
		},
		{
			name: "File with checksum field to skip",
			data: []byte{
				0x01, 0x00, 0x00, 0x00, // DWORD 1
				0xFF, 0xFF, 0xFF, 0xFF, // Checksum field (skipped)
				0x02, 0x00, 0x00, 0x00, // DWORD 2
			},
			checksumOffset: 4,
			want:           15, // 1 + 2 + filesize(12)
		},
		{
			name:           "Partial last DWORD",
			data:           []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00},
			checksumOffset: -1,
			want:           9, // 1 + 2 (padded) + filesize(6)
		},
		{
			name: "Checksum field at odd offset",
			data: []byte{
				0x01, 0x00, 0x00,
				0xFF, 0xFF, 0xFF, 0xFF, // Checksum field (skipped)
				0x00, 0x02, 0x00,
			},
			checksumOffset: 3,
			want:           13, // 1 + 2 + filesize(10)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary file
			tmpfile, err := os.CreateTemp("", "petest-*.bin")
			if err != nil {
				t.Fatal(err)
			}
			defer os.Remove(tmpfile.Name())
			defer tmpfile.Close()

			if _, err := tmpfile.Write(tt.data); err != nil {
				t.Fatal(err)
			}

			// Calculate checksum
			got, err := CalculatePEChecksum(tmpfile, int64(len(tt.data)), tt.checksumOffset)
			if err != nil {
				t.Fatalf("CalculatePEChecksum() error = %v", err)
			}

			if got != tt.want {
				t.Errorf("CalculatePEChecksum() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestChecksumCarryHandling(t *testing.T) {
	// Test carry propagation with large values
	data := make([]byte, 16)

	// Create DWORDs that will cause overflow
	binary.LittleEndian.PutUint32(data[0:4], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[8:12], 0x00000001)
	binary.LittleEndian.PutUint32(data[12:16], 0x00000001)

	tmpfile, err := os.CreateTemp("", "petest-carry-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())
	defer tmpfile.Close()

	if _, err := tmpfile.Write(data); err != nil {
		t.Fatal(err)
	}

	got, err := CalculatePEChecksum(tmpfile, int64(len(data)), -1)
	if err != nil {
		t.Fatalf("CalculatePEChecksum() error = %v", err)
	}

	// Verify carry was handled (exact value depends on algorithm)
	t.Logf("Checksum with overflow: 0x%08X", got)

	// Basic sanity check - should not be zero
	if got == 0 {
		t.Error("Checksum should not be zero with non-zero data")
	}
}

func TestVerifyChecksum(t *testing.T) {
	b := newImageBuilder(true, 0x400)
	b.buf[0x300] = 0x7F
	offset := int64(testOptionalHeader + checksumFieldOffset)

	want, err := CalculatePEChecksum(bytes.NewReader(b.buf), int64(len(b.buf)), offset)
	if err != nil {
		t.Fatalf("CalculatePEChecksum() error = %v", err)
	}

	tests := []struct {
		name      string
		stored    uint32
		opts      Options
		wantValid bool
	}{
		{name: "Matching", stored: want, wantValid: true},
		{name: "Mismatch", stored: want + 1, wantValid: false},
		{name: "Not set", stored: 0, wantValid: true},
		{name: "Virtual image", stored: want + 1, opts: Options{IsVirtual: true}, wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.setChecksum(tt.stored)
			img := b.open(t, tt.opts)

			info := img.VerifyChecksum()
			if info == nil {
				t.Fatal("VerifyChecksum() = nil")
			}
			if info.Stored != tt.stored {
				t.Errorf("Stored = 0x%08X, want 0x%08X", info.Stored, tt.stored)
			}
			if info.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", info.Valid, tt.wantValid)
			}
		})
	}
}

func TestVerifyChecksumIgnoresRelocations(t *testing.T) {
	b := relocatedImage([]uint16{highlow(0x500)}, map[int]uint32{0x500: 0x401234})
	offset := int64(testOptionalHeader + checksumFieldOffset)
	want, err := CalculatePEChecksum(bytes.NewReader(b.buf), int64(len(b.buf)), offset)
	if err != nil {
		t.Fatalf("CalculatePEChecksum() error = %v", err)
	}
	b.setChecksum(want)

	img := b.open(t, Options{LoadedBase: testLoadedBase})
	if info := img.VerifyChecksum(); info == nil || !info.Valid {
		t.Errorf("VerifyChecksum() = %+v, want valid", info)
	}
}

package symstore

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ZacharyZcR/PEImage/internal/pe"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalImage returns a PE32+ image with the given timestamp and
// SizeOfImage and nothing else.
func minimalImage(timestamp, sizeOfImage uint32) []byte {
	buf := make([]byte, 0x400)
	binary.LittleEndian.PutUint16(buf[0:], pe.DosMagic)
	binary.LittleEndian.PutUint32(buf[0x3C:], 0x80)
	binary.LittleEndian.PutUint32(buf[0x80:], pe.NTSignature)
	binary.LittleEndian.PutUint16(buf[0x84:], pe.MachineAMD64)
	binary.LittleEndian.PutUint32(buf[0x88:], timestamp)
	binary.LittleEndian.PutUint16(buf[0x94:], 0xF0)
	binary.LittleEndian.PutUint16(buf[0x98:], pe.OptionalMagic64)
	binary.LittleEndian.PutUint32(buf[0x98+56:], sizeOfImage)
	return buf
}

func TestPdbKey(t *testing.T) {
	guid := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")

	tests := []struct {
		name string
		pdb  pe.PdbInfo
		want string
	}{
		{
			name: "Windows path",
			pdb:  pe.PdbInfo{Path: `C:\build\Release\App.pdb`, Guid: guid, Age: 1},
			want: "app.pdb/00112233445566778899AABBCCDDEEFF1/app.pdb",
		},
		{
			name: "Bare name with large age",
			pdb:  pe.PdbInfo{Path: "ntdll.pdb", Guid: guid, Age: 0x1A},
			want: "ntdll.pdb/00112233445566778899AABBCCDDEEFF1A/ntdll.pdb",
		},
		{
			name: "POSIX path",
			pdb:  pe.PdbInfo{Path: "/tmp/out/lib.pdb", Guid: guid, Age: 2},
			want: "lib.pdb/00112233445566778899AABBCCDDEEFF2/lib.pdb",
		},
		{
			name: "Empty path",
			pdb:  pe.PdbInfo{Guid: guid, Age: 1},
			want: "",
		},
		{
			name: "Nil GUID",
			pdb:  pe.PdbInfo{Path: "app.pdb", Age: 1},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PdbKey(tt.pdb))
		})
	}
}

func TestImageKey(t *testing.T) {
	assert.Equal(t, "kernel32.dll/5F3C1A2B1a000/kernel32.dll",
		ImageKey(`C:\Windows\System32\KERNEL32.DLL`, 0x5F3C1A2B, 0x1a000))
	assert.Equal(t, "app.exe/0000000A400/app.exe", ImageKey("app.exe", 0xA, 0x400))
	assert.Empty(t, ImageKey("", 1, 0x400))
	assert.Empty(t, ImageKey("app.exe", 1, 0))
}

func TestKeys(t *testing.T) {
	img, err := pe.New(bytes.NewReader(minimalImage(0x5F3C1A2B, 0x2000)), pe.Options{})
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, []string{"app.exe/5F3C1A2B2000/app.exe"}, Keys("App.exe", img))

	invalid, err := pe.New(bytes.NewReader([]byte("MZ")), pe.Options{})
	require.NoError(t, err)
	defer invalid.Close()
	assert.Nil(t, Keys("app.exe", invalid))
}

// Package symstore builds symbol server lookup keys from image identities.
package symstore

import (
	"fmt"
	"path"
	"strings"

	"github.com/ZacharyZcR/PEImage/internal/pe"
	"github.com/google/uuid"
)

// fileName strips any Windows or POSIX directory from p and lower-cases it.
func fileName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return strings.ToLower(name)
}

// PdbKey returns the key of a PDB 7.0 file: name/GUIDAGE/name, with the GUID
// in upper-case hex without dashes and the age in upper-case hex.
func PdbKey(pdb pe.PdbInfo) string {
	name := fileName(pdb.Path)
	if name == "" || pdb.Guid == uuid.Nil {
		return ""
	}
	guid := strings.ToUpper(strings.ReplaceAll(pdb.Guid.String(), "-", ""))
	return fmt.Sprintf("%s/%s%X/%s", name, guid, pdb.Age, name)
}

// ImageKey returns the key of the image file itself:
// name/TIMESTAMPsizeofimage/name.
func ImageKey(fileNamePath string, timestamp, sizeOfImage uint32) string {
	name := fileName(fileNamePath)
	if name == "" || sizeOfImage == 0 {
		return ""
	}
	return fmt.Sprintf("%s/%08X%x/%s", name, timestamp, sizeOfImage, name)
}

// Keys returns every key the image can be looked up by: the image key and
// one key per PDB record. Invalid images have no keys.
func Keys(fileNamePath string, img *pe.Image) []string {
	if !img.IsValid() {
		return nil
	}
	var keys []string
	if k := ImageKey(fileNamePath, img.IndexTimeStamp(), img.IndexFileSize()); k != "" {
		keys = append(keys, k)
	}
	for _, pdb := range img.Pdbs() {
		if k := PdbKey(pdb); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

package record

import (
	"os"
	"path/filepath"
	"strings"
)

// SubtypeForPath infers a BinarySubtype from path's file extension,
// falling back to hint when the extension is absent or unrecognized.
func SubtypeForPath(path string, hint BinarySubtype) BinarySubtype {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return BinaryJPEG
	case ".txt":
		return BinaryText
	case ".xml":
		return BinaryXML
	default:
		return hint
	}
}

// ReadFile reads the file at path into a Binary record, inferring its
// BinarySubtype from path's extension (falling back to hint when the
// extension is absent or unrecognized), per §4.1's read_file operation.
func ReadFile(path string, hint BinarySubtype) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	return NewBinary(data, SubtypeForPath(path, hint)), nil
}

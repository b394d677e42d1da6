package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
	"golang.org/x/text/unicode/norm"
)

// FileIdentity pins an input file to a specific version of its content.
type FileIdentity struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	ModTimeNS int64  `json:"mtime_ns"`
	Inode     uint64 `json:"inode"`
	Device    uint64 `json:"dev"`
}

// CanonicalPath returns the absolute, cleaned, NFC-normalized form of path.
// Decomposed and precomposed spellings of the same name map to one key.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return norm.NFC.String(filepath.Clean(abs)), nil
}

// Identify stats path and returns its identity.
func Identify(path string) (FileIdentity, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return FileIdentity{}, err
	}
	var st unix.Stat_t
	if err := unix.Stat(canonical, &st); err != nil {
		return FileIdentity{}, fmt.Errorf("stat %s: %w", canonical, err)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return FileIdentity{}, fmt.Errorf("%s is a directory", canonical)
	}
	return FileIdentity{
		Path:      canonical,
		Size:      st.Size,
		ModTimeNS: st.Mtim.Nano(),
		Inode:     uint64(st.Ino),
		Device:    uint64(st.Dev),
	}, nil
}

type keyMaterial struct {
	Operation string         `json:"op"`
	Files     []FileIdentity `json:"files"`
	Params    any            `json:"params"`
}

// Key derives a deterministic cache key. Params must be JSON encodable; map
// keys are sorted by the encoder so argument order never matters.
func Key(operation string, files []FileIdentity, params any) (string, error) {
	if files == nil {
		files = []FileIdentity{}
	}
	data, err := json.Marshal(keyMaterial{Operation: operation, Files: files, Params: params})
	if err != nil {
		return "", fmt.Errorf("encode cache key params: %w", err)
	}
	sum := sha256.Sum256(data)
	return operation + ":" + hex.EncodeToString(sum[:]), nil
}

// KeyForFiles identifies each path and derives the key in one step.
func KeyForFiles(operation string, params any, paths ...string) (string, error) {
	files := make([]FileIdentity, 0, len(paths))
	for _, p := range paths {
		id, err := Identify(p)
		if err != nil {
			return "", err
		}
		files = append(files, id)
	}
	return Key(operation, files, params)
}

// Package manifest builds and validates the archive checksum manifest:
// given a directory, list every file's relative path, size, and SHA-256
// digest, then later re-hash the directory to detect missing, extra,
// and modified files.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Algorithm is the only supported checksum algorithm.
const Algorithm = "sha256"

// FileEntry describes one manifested file.
type FileEntry struct {
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	SHA256       string `json:"sha256"`
}

// Manifest is the canonical JSON document written alongside an archived
// directory.
type Manifest struct {
	RunID     string      `json:"run_id"`
	CreatedAt time.Time   `json:"created_at"`
	Algorithm string      `json:"algorithm"`
	Files     []FileEntry `json:"files"`
	// Bound is the geographic extent covered by the archive, when the
	// archive is a tile or terrain pyramid rooted at a known rectangle.
	// Nil for archives with no inherent spatial extent.
	Bound *orb.Bound `json:"bound,omitempty"`
}

// ValidateManifestFilename enforces the constraint shared with the
// archive config's manifest_filename field: non-empty, relative, and
// not escaping its containing directory via "..".
func ValidateManifestFilename(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return apperr.New(apperr.InvalidArgument, "manifest_filename must not be empty")
	}
	cleaned := filepath.ToSlash(filepath.Clean(trimmed))
	if filepath.IsAbs(cleaned) {
		return apperr.New(apperr.InvalidArgument, "manifest_filename must be a relative filename")
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return apperr.New(apperr.InvalidArgument, "manifest_filename must be a relative filename")
		}
	}
	return nil
}

// Build walks root and returns a Manifest listing every regular file
// under it (in sorted relative-path order), excluding manifestFilename
// itself so the manifest never lists its own future location.
func Build(root, runID, manifestFilename string) (*Manifest, error) {
	if err := ValidateManifestFilename(manifestFilename); err != nil {
		return nil, err
	}

	var entries []FileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPosix := filepath.ToSlash(rel)
		if relPosix == manifestFilename {
			return nil
		}

		digest, size, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{RelativePath: relPosix, Size: size, SHA256: digest})
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to walk archive directory", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })

	return &Manifest{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Algorithm: Algorithm,
		Files:     entries,
	}, nil
}

// BuildWithBound is Build plus a recorded spatial extent, for archives
// rooted at a known geographic rectangle (tile pyramids, terrain
// pyramids). Pass nil to omit the extent, equivalent to calling Build.
func BuildWithBound(root, runID, manifestFilename string, bound *orb.Bound) (*Manifest, error) {
	m, err := Build(root, runID, manifestFilename)
	if err != nil {
		return nil, err
	}
	m.Bound = bound
	return m, nil
}

func hashFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Write serializes m as canonical (indented, deterministically ordered)
// JSON to path.
func Write(m *Manifest, path string) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.EncodeErr, "failed to marshal manifest", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to write manifest", err)
	}
	return nil
}

// Load reads and parses a Manifest from path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.NotFound, "manifest not found: "+path, err)
		}
		return nil, apperr.Wrap(apperr.StorageErr, "failed to read manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, "failed to parse manifest", err)
	}
	return &m, nil
}

// ValidationResult reports the drift between a manifest and the
// directory it describes.
type ValidationResult struct {
	Missing  []string `json:"missing"`  // listed in manifest, absent on disk
	Extra    []string `json:"extra"`    // present on disk, not listed in manifest
	Modified []string `json:"modified"` // present in both, checksum differs
}

// OK reports whether the directory matches the manifest exactly.
func (r ValidationResult) OK() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Modified) == 0
}

// Validate re-hashes every file under root (excluding manifestFilename)
// and diffs the result against m.
func Validate(root string, m *Manifest, manifestFilename string) (ValidationResult, error) {
	actual, err := Build(root, m.RunID, manifestFilename)
	if err != nil {
		return ValidationResult{}, err
	}

	expected := make(map[string]string, len(m.Files))
	for _, f := range m.Files {
		expected[f.RelativePath] = f.SHA256
	}
	seen := make(map[string]struct{}, len(actual.Files))

	var result ValidationResult
	for _, f := range actual.Files {
		seen[f.RelativePath] = struct{}{}
		wantDigest, ok := expected[f.RelativePath]
		if !ok {
			result.Extra = append(result.Extra, f.RelativePath)
			continue
		}
		if wantDigest != f.SHA256 {
			result.Modified = append(result.Modified, f.RelativePath)
		}
	}
	for rel := range expected {
		if _, ok := seen[rel]; !ok {
			result.Missing = append(result.Missing, rel)
		}
	}

	sort.Strings(result.Missing)
	sort.Strings(result.Extra)
	sort.Strings(result.Modified)
	return result, nil
}

package policyopa

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	cryptoinfra "certnode/internal/infra/crypto"
)

type digestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// BundleDigest fingerprints the rule files of a pattern pack so a match can be
// traced to the exact rules that produced it. Editor droppings, archives and
// hidden or vendored directories do not contribute.
func BundleDigest(dir string) (string, error) {
	return BundleDigestFS(os.DirFS(dir))
}

func BundleDigestFS(fsys fs.FS) (string, error) {
	var entries []digestEntry
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		base := path.Base(p)
		if d.IsDir() {
			if strings.HasPrefix(base, ".") || base == "vendor" || base == "__MACOSX" {
				return fs.SkipDir
			}
			return nil
		}
		if !ruleFile(base) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		entries = append(entries, digestEntry{Path: p, SHA256: sha256Hex(string(data))})
		return nil
	})
	if err != nil {
		return "", err
	}
	return digestOf(entries)
}

func digestOf(entries []digestEntry) (string, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if entries == nil {
		entries = []digestEntry{}
	}
	return cryptoinfra.ContentHash(map[string]any{"files": entries})
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func ruleFile(base string) bool {
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".rego") || base == "data.json"
}

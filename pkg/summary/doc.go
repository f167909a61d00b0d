// Package summary models the checkpoint summary document (spec.md §3,
// §6) and implements the collective Summary Loader (spec.md §4.4).
package summary

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tonyhutter/scr/pkg/attr"
	"github.com/tonyhutter/scr/pkg/screrr"
)

// DocFileName is the name of the summary document inside a checkpoint
// directory.
const DocFileName = "scr_summary"

// MinVersion is the lowest summary-document version this loader accepts
// (spec.md §3: "rooted at a single version-tagged node (version ≥ 6)").
const MinVersion = 6

// checkReadableDir reports whether dir exists and is a directory,
// grounded on perkeep's diskpacked newStorage root-directory check
// (os.Stat + IsDir before any I/O against the directory).
func checkReadableDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", screrr.ErrParse, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", dir, screrr.ErrParse)
	}
	return nil
}

// readDoc parses the summary document at path into an attribute tree
// and validates its version.
func readDoc(path string) (*attr.Tree, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("summary: read %s: %w: %v", path, screrr.ErrParse, err)
	}
	doc, err := attr.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("summary: parse %s: %w: %v", path, screrr.ErrParse, err)
	}
	version, ok := doc.Int("VERSION")
	if !ok || version < MinVersion {
		return nil, fmt.Errorf("summary: %s: unsupported or missing VERSION (want >= %d): %w", path, MinVersion, screrr.ErrParse)
	}
	return doc, nil
}

// docPath joins a checkpoint directory with the summary document name.
func docPath(checkpointDir string) string {
	return filepath.Join(checkpointDir, DocFileName)
}

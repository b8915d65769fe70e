package qbxml

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
)

// companyFileExt is the QuickBooks Desktop company file extension
const companyFileExt = ".qbw"

// DefaultSearchPaths lists the usual QuickBooks company file locations
func DefaultSearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "Documents", "QuickBooks"))
	}
	if public := os.Getenv("PUBLIC"); public != "" {
		paths = append(paths, filepath.Join(public, "Documents", "Intuit", "QuickBooks"))
	}
	return append(paths,
		`C:\Users\Public\Documents\Intuit\QuickBooks`,
		`C:\ProgramData\Intuit\QuickBooks`,
	)
}

// FindCompanyFile returns the first company file found under the given
// directories, searched in order and recursively. Missing directories are
// skipped.
func FindCompanyFile(searchPaths []string) (string, error) {
	for _, root := range searchPaths {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			continue
		}

		var found string
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), companyFileExt) {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if found != "" {
			return found, nil
		}
	}

	return "", errors.New(errors.ErrorTypeConnection, "no QuickBooks company file found").
		WithDetail("search_paths", searchPaths)
}

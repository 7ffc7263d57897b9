package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const lockFileName = ".foldersync.lock"

var defaultIgnoreLines = []string{
	// editors and office suites
	"*.swp",
	"*.swx",
	"~\\$*",
	".~lock.*",
	// partial downloads
	"*.crdownload",
	"*.part",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

type walkFunc func(afero.Fs, string, *IgnoreList) (map[string]os.FileInfo, error)

// IgnoreList decides which paths under the watch root are never synced. The
// reserved paths (state file, its temp file, the instance lock) are always
// excluded; everything else goes through gitignore style patterns.
type IgnoreList struct {
	root     string
	reserved map[string]bool
	ignore   *gitignore.GitIgnore
}

func NewIgnoreList(root string, reserved []string, patterns []string) *IgnoreList {
	reservedPaths := make(map[string]bool, len(reserved))
	for _, path := range reserved {
		reservedPaths[filepath.Clean(path)] = true
	}

	lines := make([]string, 0, len(defaultIgnoreLines)+len(patterns))
	lines = append(lines, defaultIgnoreLines...)
	lines = append(lines, patterns...)

	return &IgnoreList{
		root:     filepath.Clean(root),
		reserved: reservedPaths,
		ignore:   gitignore.CompileIgnoreLines(lines...),
	}
}

func (l *IgnoreList) ShouldIgnore(path string, isDir bool) bool {
	if l == nil {
		return false
	}
	path = filepath.Clean(path)
	if l.reserved[path] {
		return true
	}

	relPath, relErr := filepath.Rel(l.root, path)
	if relErr != nil || relPath == "." {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	if isDir {
		relPath += "/"
	}

	return l.ignore.MatchesPath(relPath)
}

func walkDirectory(fs afero.Fs, dirPath string, ignore *IgnoreList) (map[string]os.FileInfo, error) {
	fileMap := make(map[string]os.FileInfo)
	walkErr := afero.Walk(fs, dirPath, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			if path == dirPath {
				return err
			}
			// vanished between listing and stat, picked up again next cycle
			log.Debug(fmt.Sprintf("Skipping %s: %s", path, err))
			return nil
		}
		if ignore.ShouldIgnore(path, f.IsDir()) {
			if f.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if f.Mode().IsRegular() {
			fileMap[path] = f
		}
		return nil
	})

	return fileMap, walkErr
}

// isFileReady reports whether a file has been left alone for at least the
// quiescence window, so it is not fingerprinted while still being written.
func isFileReady(info os.FileInfo, now time.Time, window time.Duration) bool {
	return now.Sub(info.ModTime()) >= window
}

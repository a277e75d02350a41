package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Batch file names encode the creation timestamp in unix milliseconds, so a
// lexical sort of equal-width names is not required: names are compared
// numerically and ties broken lexically.

// nameForTime returns the batch file name for a creation instant.
func nameForTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// timeFromName recovers the creation instant from a batch file name.
func timeFromName(name string) (time.Time, bool) {
	millis, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// diskFile is one batch file on disk.
type diskFile struct {
	name      string
	path      string
	size      int64
	createdAt time.Time
}

// listFiles returns the batch files under dir, oldest first. Files whose name
// does not parse as a timestamp are ignored (they are not batches).
func listFiles(dir string) ([]diskFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]diskFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		createdAt, ok := timeFromName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, diskFile{
			name:      e.Name(),
			path:      filepath.Join(dir, e.Name()),
			size:      info.Size(),
			createdAt: createdAt,
		})
	}
	sortOldestFirst(files)
	return files, nil
}

// sortOldestFirst orders batch files by creation time, ties broken by name.
func sortOldestFirst(files []diskFile) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].createdAt.Equal(files[j].createdAt) {
			return files[i].createdAt.Before(files[j].createdAt)
		}
		return files[i].name < files[j].name
	})
}

// removeAllFiles deletes every batch file under dir, keeping the directory.
func removeAllFiles(dir string) error {
	files, err := listFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

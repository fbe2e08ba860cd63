package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// uploadState remembers the directory the file chooser was pointed at, so later uploads
// in the same session can skip resolving it again.
type uploadState struct {
	mu  sync.Mutex
	dir string
}

// uploadPlan is one validated upload
type uploadPlan struct {
	path   string // as requested; reported back to the caller
	abs    string // handed to the driver
	primed bool
}

// prepare validates path. The remembered directory is refreshed when prime is set, when
// nothing is remembered yet, or when path lives somewhere else; it never changes which
// file is uploaded.
func (u *uploadState) prepare(path string, prime bool) (uploadPlan, error) {
	if path == "" {
		return uploadPlan{}, errors.New("no file to upload")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return uploadPlan{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return uploadPlan{}, fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return uploadPlan{}, fmt.Errorf("%s is a directory", abs)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	plan := uploadPlan{path: path, abs: abs}
	if dir := filepath.Dir(abs); prime || u.dir != dir {
		u.dir = dir
		plan.primed = true
	}
	return plan, nil
}

func (u *uploadState) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dir = ""
}

func (u *uploadState) directory() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dir
}

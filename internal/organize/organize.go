// Package organize files completed downloads under the output root as
// <publisher>/<title>[ (n)].<ext>, never overwriting an existing file.
package organize

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

type Organizer struct {
	root string

	mu       sync.Mutex
	pubLocks map[string]*sync.Mutex
}

func New(root string) *Organizer {
	if root == "" {
		root = "."
	}
	return &Organizer{
		root:     root,
		pubLocks: make(map[string]*sync.Mutex),
	}
}

// Place moves srcPath into the publisher's directory under a sanitized title,
// creating the directory if needed. Concurrent placements for the same
// publisher are serialized, so name disambiguation cannot race.
func (o *Organizer) Place(publisher, title, ext, srcPath string) (string, error) {
	pub := SanitizeComponent(publisher)
	name := SanitizeComponent(title)

	lock := o.publisherLock(pub)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(o.root, pub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating publisher directory: %v", err)
	}
	dest := uniquePath(dir, name, ext)
	if err := moveFile(srcPath, dest); err != nil {
		return "", err
	}
	log.Debug().Str("op", "organize").Msgf("Placed %s", dest)
	return dest, nil
}

func (o *Organizer) publisherLock(pub string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.pubLocks[pub]
	if !ok {
		lock = &sync.Mutex{}
		o.pubLocks[pub] = lock
	}
	return lock
}

// uniquePath returns dir/name.ext, appending " (2)", " (3)", ... while the
// candidate already exists.
func uniquePath(dir, name, ext string) string {
	candidate := filepath.Join(dir, fmt.Sprintf("%s.%s", name, ext))
	index := 2
	for {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d).%s", name, index, ext))
		index++
	}
}

// moveFile renames src to dest, falling back to copy+remove when the temp
// area and output root live on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening artifact: %v", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("error creating destination file: %v", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("error copying artifact: %v", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("error finalizing destination file: %v", err)
	}
	return os.Remove(src)
}

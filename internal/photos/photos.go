// Package photos stores one JPEG per member under a deterministic
// filename, plus short-lived probe shots captured at the kiosk.
package photos

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const jpegQuality = 90

// Dir is a photo directory on local disk.
type Dir struct {
	root   string
	probes string
}

// New creates the photo directory (and its probe subdirectory) if needed.
func New(root string) (*Dir, error) {
	d := &Dir{root: root, probes: filepath.Join(root, ".probes")}
	for _, p := range []string{d.root, d.probes} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("create photo dir: %w", err)
		}
	}
	return d, nil
}

// Root returns the photo directory path.
func (d *Dir) Root() string { return d.root }

// SanitizeName reduces a member name to alnum, space and underscore, then
// replaces spaces with underscores. Matches the stored filename contract.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

// MemberPath returns the deterministic photo path for a member.
func (d *Dir) MemberPath(id, name string) string {
	return filepath.Join(d.root, fmt.Sprintf("%s_%s.jpg", id, SanitizeName(name)))
}

// Save decodes the captured image and writes it as JPEG quality 90 at the
// member's deterministic path, overwriting any previous photo.
func (d *Dir) Save(id, name string, r io.Reader) (string, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode photo: %w", err)
	}
	path := d.MemberPath(id, name)
	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("save photo: %w", err)
	}
	return path, nil
}

// SaveProbe writes a freshly captured kiosk shot under a random name.
// The caller removes it once matching is done.
func (d *Dir) SaveProbe(r io.Reader) (string, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode probe: %w", err)
	}
	path := filepath.Join(d.probes, uuid.NewString()+".jpg")
	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("save probe: %w", err)
	}
	return path, nil
}

// Remove deletes a stored photo. Absence is tolerated.
func (d *Dir) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Reset removes every stored photo and probe, then recreates the directories.
func (d *Dir) Reset() error {
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("reset photos: %w", err)
	}
	for _, p := range []string{d.root, d.probes} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

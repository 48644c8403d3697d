package testsupport

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"

	"photonix/internal/catalog"
)

var fixtureCounter atomic.Int64

// NewLibrary creates a library with exactly the listed classifier kinds enabled.
func NewLibrary(t testing.TB, cat *catalog.Store, kinds ...string) *catalog.Library {
	t.Helper()

	flags := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		flags[kind] = true
	}
	name := fmt.Sprintf("library-%d", fixtureCounter.Add(1))
	lib, err := cat.CreateLibrary(context.Background(), name, flags)
	if err != nil {
		t.Fatalf("CreateLibrary: %v", err)
	}
	return lib
}

// NewPhoto registers a photo pointing at a non-existent path. Use it when the
// file contents do not matter.
func NewPhoto(t testing.TB, cat *catalog.Store, libraryID string) (*catalog.Photo, *catalog.PhotoFile) {
	t.Helper()

	path := fmt.Sprintf("/photos/fixture-%d.jpg", fixtureCounter.Add(1))
	photo, file, err := cat.AddPhoto(context.Background(), catalog.NewPhoto{LibraryID: libraryID, Path: path})
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	return photo, file
}

// WriteJPEG writes a solid-colour JPEG of the given size.
func WriteJPEG(t testing.TB, path string, width, height int, fill color.Color) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := imaging.New(width, height, fill)
	if err := imaging.Save(img, path, imaging.JPEGQuality(90)); err != nil {
		t.Fatalf("write jpeg %s: %v", path, err)
	}
}

// NewJPEGPhoto writes a real JPEG under dir and registers it as a photo.
func NewJPEGPhoto(t testing.TB, cat *catalog.Store, libraryID, dir string, fill color.Color) (*catalog.Photo, *catalog.PhotoFile) {
	t.Helper()

	path := filepath.Join(dir, fmt.Sprintf("photo-%d.jpg", fixtureCounter.Add(1)))
	WriteJPEG(t, path, 320, 240, fill)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	photo, file, err := cat.AddPhoto(context.Background(), catalog.NewPhoto{
		LibraryID: libraryID,
		Path:      path,
		Bytes:     info.Size(),
	})
	if err != nil {
		t.Fatalf("AddPhoto: %v", err)
	}
	return photo, file
}

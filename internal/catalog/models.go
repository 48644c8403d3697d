package catalog

import (
	"errors"
	"time"
)

var (
	ErrLibraryNotFound = errors.New("library not found")
	ErrPhotoNotFound   = errors.New("photo not found")
)

// TagType is the single-letter tag category stored with each tag.
type TagType string

const (
	TagLocation TagType = "L"
	TagObject   TagType = "O"
	TagFace     TagType = "F"
	TagColor    TagType = "C"
	TagStyle    TagType = "S"
	TagGeneric  TagType = "G"
	TagEvent    TagType = "E"
)

var tagTypeNames = map[TagType]string{
	TagLocation: "location",
	TagObject:   "object",
	TagFace:     "face",
	TagColor:    "color",
	TagStyle:    "style",
	TagGeneric:  "generic",
	TagEvent:    "event",
}

func (t TagType) String() string {
	if name, ok := tagTypeNames[t]; ok {
		return name
	}
	return string(t)
}

// Library groups photos and carries the per-library classifier switches.
type Library struct {
	ID          string
	Name        string
	Classifiers map[string]bool
	CreatedAt   time.Time
}

// Photo is a single picture, possibly backed by several files.
type Photo struct {
	ID        string
	LibraryID string
	TakenAt   *time.Time
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
}

// HasLocation reports whether both coordinates are known.
func (p *Photo) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// PhotoFile is one file on disk belonging to a photo.
type PhotoFile struct {
	ID            string
	PhotoID       string
	Path          string
	MimeType      string
	Bytes         int64
	RawProcessed  bool
	RawOutputPath string
	CreatedAt     time.Time
}

// DisplayPath returns the JPEG rendition when one was produced, else the file itself.
func (f *PhotoFile) DisplayPath() string {
	if f.RawOutputPath != "" {
		return f.RawOutputPath
	}
	return f.Path
}

// Box is a normalized bounding box; every coordinate is in [0, 1].
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// TagInput describes one tag to attach to a photo. Parent names another tag
// of the same type, created on demand.
type TagInput struct {
	Name         string
	Type         TagType
	Parent       string
	Confidence   float64
	Significance float64
	Box          *Box
}

// PhotoTag is an attached tag as read back from the catalog.
type PhotoTag struct {
	ID           string
	PhotoID      string
	TagID        string
	Name         string
	Type         TagType
	Parent       string
	Source       string
	Confidence   float64
	Significance float64
	Box          *Box
}

// NewPhoto describes a photo registration.
type NewPhoto struct {
	LibraryID string
	Path      string
	MimeType  string
	Bytes     int64
	TakenAt   *time.Time
	Latitude  *float64
	Longitude *float64
}

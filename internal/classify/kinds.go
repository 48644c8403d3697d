package classify

import (
	"errors"
	"fmt"
	"strings"

	"photonix/internal/catalog"
	"photonix/internal/queue"
)

// ErrUnknownKind is returned for classifier kinds outside the fixed set.
var ErrUnknownKind = errors.New("unknown classifier kind")

// Kind names one classifier.
type Kind string

const (
	KindColor    Kind = "color"
	KindEvent    Kind = "event"
	KindLocation Kind = "location"
	KindFace     Kind = "face"
	KindStyle    Kind = "style"
	KindObject   Kind = "object"
)

// canonicalKinds is the fan-out order.
var canonicalKinds = []Kind{KindColor, KindEvent, KindLocation, KindFace, KindStyle, KindObject}

var kindTagTypes = map[Kind]catalog.TagType{
	KindColor:    catalog.TagColor,
	KindEvent:    catalog.TagEvent,
	KindLocation: catalog.TagLocation,
	KindFace:     catalog.TagFace,
	KindStyle:    catalog.TagStyle,
	KindObject:   catalog.TagObject,
}

// Kinds returns every classifier kind in canonical order.
func Kinds() []Kind {
	out := make([]Kind, len(canonicalKinds))
	copy(out, canonicalKinds)
	return out
}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := kindTagTypes[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
	}
	return kind, nil
}

// KindForType maps a classify.<kind> task type back to its kind.
func KindForType(taskType queue.Type) (Kind, bool) {
	name, ok := taskType.ClassifierKind()
	if !ok {
		return "", false
	}
	kind, err := ParseKind(name)
	if err != nil {
		return "", false
	}
	return kind, true
}

// TaskType returns the child task type for the kind.
func (k Kind) TaskType() queue.Type {
	return queue.ClassifyType(string(k))
}

// TagType returns the catalog tag category the kind writes.
func (k Kind) TagType() catalog.TagType {
	if tagType, ok := kindTagTypes[k]; ok {
		return tagType
	}
	return catalog.TagGeneric
}

func (k Kind) String() string { return string(k) }

package classify

import (
	"context"
	"errors"

	"photonix/internal/catalog"
	"photonix/internal/queue"
	"photonix/internal/services"
)

// PhotoStore is the slice of the catalog a PhotoRunner needs.
type PhotoStore interface {
	GetPhoto(ctx context.Context, id string) (*catalog.Photo, error)
	PhotoFiles(ctx context.Context, photoID string) ([]*catalog.PhotoFile, error)
	ReplaceTags(ctx context.Context, photoID string, tagType catalog.TagType, source string, inputs []catalog.TagInput) ([]*catalog.PhotoTag, error)
}

// PathResolver picks the image a model should read for a file.
type PathResolver func(file *catalog.PhotoFile) string

// DisplayPath resolves to the JPEG rendition when one exists.
func DisplayPath(file *catalog.PhotoFile) string {
	return file.DisplayPath()
}

// PhotoRunner bridges classify tasks and the catalog for one classifier.
type PhotoRunner struct {
	store      PhotoStore
	classifier Classifier
	resolve    PathResolver
}

// NewPhotoRunner constructs a runner. A nil resolver uses DisplayPath.
func NewPhotoRunner(store PhotoStore, classifier Classifier, resolve PathResolver) *PhotoRunner {
	if resolve == nil {
		resolve = DisplayPath
	}
	if classifier.Adapter == nil {
		classifier.Adapter = DefaultAdapter(classifier.Kind)
	}
	return &PhotoRunner{store: store, classifier: classifier, resolve: resolve}
}

// Kind returns the classifier kind the runner records.
func (r *PhotoRunner) Kind() Kind {
	return r.classifier.Kind
}

// Input loads the task's photo. A photo or file removed after the task was
// created yields services.ErrSubjectNotFound.
func (r *PhotoRunner) Input(ctx context.Context, task *queue.Task) (Input, error) {
	stage := string(task.Type)
	photo, err := r.store.GetPhoto(ctx, task.SubjectID)
	if errors.Is(err, catalog.ErrPhotoNotFound) {
		return Input{}, services.Wrap(services.ErrSubjectNotFound, stage, "load photo", task.SubjectID, err)
	}
	if err != nil {
		return Input{}, services.Wrap(services.ErrTransient, stage, "load photo", task.SubjectID, err)
	}
	files, err := r.store.PhotoFiles(ctx, photo.ID)
	if err != nil {
		if errors.Is(err, catalog.ErrPhotoNotFound) {
			return Input{}, services.Wrap(services.ErrSubjectNotFound, stage, "load photo files", task.SubjectID, err)
		}
		return Input{}, services.Wrap(services.ErrTransient, stage, "load photo files", task.SubjectID, err)
	}
	if len(files) == 0 {
		return Input{}, services.Wrap(services.ErrSubjectNotFound, stage, "load photo files", "photo has no files", nil)
	}
	file := files[0]
	return Input{
		PhotoID:   photo.ID,
		FileID:    file.ID,
		Path:      r.resolve(file),
		TakenAt:   photo.TakenAt,
		Latitude:  photo.Latitude,
		Longitude: photo.Longitude,
	}, nil
}

// Record replaces the photo's tags of the classifier's type with the adapted
// result. Returns the number of tags written. A non-empty result that adapts
// to no tags is rejected with services.ErrClassifierExecution and leaves the
// existing tags in place.
func (r *PhotoRunner) Record(ctx context.Context, task *queue.Task, result Result) (int, error) {
	kind := r.classifier.Kind
	inputs := r.classifier.Adapter(result)
	if len(inputs) == 0 && !result.Empty() {
		return 0, services.Wrap(services.ErrClassifierExecution, string(task.Type), "record tags", "result entries carry no names", nil)
	}
	tags, err := r.store.ReplaceTags(ctx, task.SubjectID, kind.TagType(), string(kind), inputs)
	if errors.Is(err, catalog.ErrPhotoNotFound) {
		return 0, services.Wrap(services.ErrSubjectNotFound, string(task.Type), "record tags", task.SubjectID, err)
	}
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, string(task.Type), "record tags", task.SubjectID, err)
	}
	return len(tags), nil
}

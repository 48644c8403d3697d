package stage

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"photonix/internal/catalog"
	"photonix/internal/queue"
	"photonix/internal/services"
)

// FileLister lists the files of a photo.
type FileLister interface {
	PhotoFiles(ctx context.Context, photoID string) ([]*catalog.PhotoFile, error)
}

// SubjectFiles loads the files of the task's photo. A photo that no longer
// exists, has no files, or whose source file is gone from disk yields
// services.ErrSubjectNotFound.
func SubjectFiles(ctx context.Context, files FileLister, task *queue.Task) ([]*catalog.PhotoFile, error) {
	name := string(task.Type)
	list, err := files.PhotoFiles(ctx, task.SubjectID)
	if errors.Is(err, catalog.ErrPhotoNotFound) {
		return nil, services.Wrap(services.ErrSubjectNotFound, name, "load photo files", task.SubjectID, err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, name, "load photo files", task.SubjectID, err)
	}
	if len(list) == 0 {
		return nil, services.Wrap(services.ErrSubjectNotFound, name, "load photo files", "photo has no files", nil)
	}
	for _, file := range list {
		if _, err := os.Stat(file.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, services.Wrap(services.ErrSubjectNotFound, name, "stat source", file.Path, err)
			}
			return nil, services.Wrap(services.ErrTransient, name, "stat source", file.Path, err)
		}
	}
	return list, nil
}

package thumbnails

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"photonix/internal/catalog"
	"photonix/internal/config"
	"photonix/internal/logging"
	"photonix/internal/queue"
	"photonix/internal/services"
	"photonix/internal/stage"
)

const (
	stageName = "generate_thumbnails"
	CropCover = "cover"
	// CropContain fits the image inside the box without cropping.
	CropContain = "contain"
)

// Generator renders and locates thumbnails.
type Generator struct {
	root   string
	sizes  []config.ThumbnailSize
	files  stage.FileLister
	logger *slog.Logger
}

// NewGenerator constructs the generate_thumbnails stage.
func NewGenerator(cfg *config.Config, files stage.FileLister, logger *slog.Logger) *Generator {
	sizes := make([]config.ThumbnailSize, len(cfg.Thumbnails.Sizes))
	copy(sizes, cfg.Thumbnails.Sizes)
	return &Generator{
		root:   cfg.Paths.ThumbnailDir,
		sizes:  sizes,
		files:  files,
		logger: logging.NewComponentLogger(logger, stageName),
	}
}

// Variant names a size, e.g. 256x256_cover_q50.
func Variant(size config.ThumbnailSize) string {
	return fmt.Sprintf("%dx%d_%s_q%d", size.Width, size.Height, size.Crop, size.Quality)
}

// Path returns where the thumbnail of fileID at size is stored.
func (g *Generator) Path(fileID string, size config.ThumbnailSize) string {
	return filepath.Join(g.root, "photofile", Variant(size), fileID+".jpg")
}

// Generate renders one thumbnail of file and returns its path. An existing
// thumbnail is kept unless it is older than the image it was rendered from.
func (g *Generator) Generate(ctx context.Context, file *catalog.PhotoFile, size config.ThumbnailSize) (string, error) {
	source := file.DisplayPath()
	srcInfo, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrSubjectNotFound, stageName, "open image", source, err)
		}
		return "", services.Wrap(services.ErrTransient, stageName, "stat image", source, err)
	}
	target := g.Path(file.ID, size)
	if info, err := os.Stat(target); err == nil && !info.ModTime().Before(srcInfo.ModTime()) {
		return target, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := imaging.Open(source, imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrSubjectNotFound, stageName, "open image", source, err)
		}
		return "", services.Wrap(services.ErrValidation, stageName, "decode image", source, err)
	}
	if err := g.write(render(src, size), target, size.Quality); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "write thumbnail", target, err)
	}
	return target, nil
}

func render(src image.Image, size config.ThumbnailSize) image.Image {
	if size.Crop == CropContain {
		return imaging.Fit(src, size.Width, size.Height, imaging.Lanczos)
	}
	return imaging.Fill(src, size.Width, size.Height, imaging.Center, imaging.Lanczos)
}

func (g *Generator) write(img image.Image, target string, quality int) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".thumb-*.jpg")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	encodeErr := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(quality))
	closeErr := tmp.Close()
	if err := errors.Join(encodeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ImagePath picks the image classifiers should read: the largest generated
// thumbnail when present, else the file's display rendition.
func (g *Generator) ImagePath(file *catalog.PhotoFile) string {
	best, bestArea := "", 0
	for _, size := range g.sizes {
		path := g.Path(file.ID, size)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if area := size.Width * size.Height; area > bestArea {
			best, bestArea = path, area
		}
	}
	if best == "" {
		return file.DisplayPath()
	}
	return best
}

// Prepare verifies the photo still exists.
func (g *Generator) Prepare(ctx context.Context, task *queue.Task) error {
	_, err := stage.SubjectFiles(ctx, g.files, task)
	return err
}

// Execute renders every configured size for every file of the photo.
func (g *Generator) Execute(ctx context.Context, task *queue.Task) error {
	files, err := stage.SubjectFiles(ctx, g.files, task)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, g.logger)
	for _, file := range files {
		for _, size := range g.sizes {
			path, err := g.Generate(ctx, file, size)
			if err != nil {
				return err
			}
			logger.Debug("thumbnail ready", logging.String("file_id", file.ID), logging.String("path", path))
		}
	}
	return nil
}

// HealthCheck reports whether the thumbnail directory is writable.
func (g *Generator) HealthCheck(context.Context) stage.Health {
	if len(g.sizes) == 0 {
		return stage.Unhealthy(stageName, "no thumbnail sizes configured")
	}
	if err := os.MkdirAll(g.root, 0o755); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("thumbnail dir: %v", err))
	}
	return stage.Healthy(stageName)
}

package rawprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"photonix/internal/catalog"
	"photonix/internal/config"
	"photonix/internal/deps"
	"photonix/internal/logging"
	"photonix/internal/queue"
	"photonix/internal/services"
	"photonix/internal/stage"
)

const stageName = "process_raw"

// displayable lists MIME types that need no conversion.
var displayable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Store is the slice of the catalog the stage needs.
type Store interface {
	stage.FileLister
	MarkRawProcessed(ctx context.Context, fileID, mimeType, outputPath string) error
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Handler converts RAW files to JPEG.
type Handler struct {
	store   Store
	cfg     config.Raw
	outDir  string
	logger  *slog.Logger
	command commandFunc
}

// NewHandler constructs the process_raw stage.
func NewHandler(cfg *config.Config, store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		cfg:     cfg.Raw,
		outDir:  cfg.Paths.RawDir,
		logger:  logging.NewComponentLogger(logger, stageName),
		command: exec.CommandContext,
	}
}

// Prepare verifies the photo still exists.
func (h *Handler) Prepare(ctx context.Context, task *queue.Task) error {
	_, err := stage.SubjectFiles(ctx, h.store, task)
	return err
}

// Execute processes every file of the photo. Files processed before are
// processed again so a reprocess picks up replaced sources.
func (h *Handler) Execute(ctx context.Context, task *queue.Task) error {
	files, err := stage.SubjectFiles(ctx, h.store, task)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, h.logger)
	for _, file := range files {
		mimeType, output, err := h.processFile(ctx, file)
		if err != nil {
			return err
		}
		if err := h.store.MarkRawProcessed(ctx, file.ID, mimeType, output); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "record result", file.ID, err)
		}
		logger.Debug("photo file processed",
			logging.String("file_id", file.ID),
			logging.String("mime_type", mimeType),
			logging.Bool("converted", output != ""),
		)
	}
	return nil
}

// processFile returns the detected MIME type and, when a conversion ran, the
// JPEG output path.
func (h *Handler) processFile(ctx context.Context, file *catalog.PhotoFile) (string, string, error) {
	mtype, err := mimetype.DetectFile(file.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", services.Wrap(services.ErrSubjectNotFound, stageName, "detect type", file.Path, err)
	}
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, stageName, "detect type", file.Path, err)
	}
	mimeType := baseMIME(mtype.String())
	if displayable[mimeType] {
		return mimeType, "", nil
	}
	output, err := h.convert(ctx, file)
	if err != nil {
		return "", "", err
	}
	return mimeType, output, nil
}

// convert runs the converter with the file as its last argument and stores
// stdout as <raw_dir>/<file_id>.jpg.
func (h *Handler) convert(ctx context.Context, file *catalog.PhotoFile) (string, error) {
	if strings.TrimSpace(h.cfg.Command) == "" {
		return "", services.Wrap(services.ErrConfiguration, stageName, "convert", "raw.command is not set", nil)
	}
	if h.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	args := append(append([]string{}, h.cfg.Args...), file.Path)
	cmd := h.command(ctx, h.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, stageName, "convert", file.Path, err)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = file.Path
		}
		return "", services.Wrap(services.ErrExternalTool, stageName, "convert", detail, err)
	}

	produced := mimetype.Detect(stdout.Bytes())
	if !produced.Is("image/jpeg") {
		return "", services.Wrap(services.ErrExternalTool, stageName, "convert",
			fmt.Sprintf("converter produced %s, want image/jpeg", produced.String()), nil)
	}

	if err := os.MkdirAll(h.outDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "create raw dir", h.outDir, err)
	}
	output := filepath.Join(h.outDir, file.ID+".jpg")
	tmp := output + ".tmp"
	if err := os.WriteFile(tmp, stdout.Bytes(), 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "write output", tmp, err)
	}
	if err := os.Rename(tmp, output); err != nil {
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrTransient, stageName, "write output", output, err)
	}
	return output, nil
}

// HealthCheck reports whether the converter binary can be found.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	status := deps.CheckBinaries([]deps.Requirement{{Name: stageName, Command: h.cfg.Command}})[0]
	if !status.Available {
		return stage.Unhealthy(stageName, status.Detail)
	}
	return stage.Healthy(stageName)
}

func baseMIME(value string) string {
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

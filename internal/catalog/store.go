package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"photonix/internal/config"
	"photonix/internal/sqlitex"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the catalog tables were created by a different version.
var ErrSchemaMismatch = errors.New("catalog schema version mismatch")

// Store persists libraries, photos and tags.
type Store struct {
	db *sql.DB
}

// Open connects to the catalog tables in the configured database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath connects to the catalog tables at an explicit database path.
func OpenPath(path string) (*Store, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitex.InitSchema(context.Background(), db, "catalog_schema_version", schemaSQL, schemaVersion, ErrSchemaMismatch); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateLibrary adds a library with the given classifier switches.
func (s *Store) CreateLibrary(ctx context.Context, name string, classifiers map[string]bool) (*Library, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("create library: name is required")
	}
	id := uuid.NewString()
	err := sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO libraries (id, name, created_at) VALUES (?, ?, ?)`, id, name, sqlitex.Now()); err != nil {
			return fmt.Errorf("insert library: %w", err)
		}
		for kind, enabled := range classifiers {
			if err := setClassifier(ctx, tx, id, kind, enabled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetLibrary(ctx, id)
}

func setClassifier(ctx context.Context, tx *sql.Tx, libraryID, kind string, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO library_classifiers (library_id, kind, enabled) VALUES (?, ?, ?)
         ON CONFLICT (library_id, kind) DO UPDATE SET enabled = excluded.enabled`,
		libraryID, kind, value)
	if err != nil {
		return fmt.Errorf("set classifier %s: %w", kind, err)
	}
	return nil
}

// SetClassifierEnabled toggles one classifier kind on a library. Fan-out reads
// the flags when it runs, so the change applies to photos not yet fanned out.
func (s *Store) SetClassifierEnabled(ctx context.Context, libraryID, kind string, enabled bool) error {
	if _, err := s.GetLibrary(ctx, libraryID); err != nil {
		return err
	}
	return sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return setClassifier(ctx, tx, libraryID, kind, enabled)
	})
}

// GetLibrary fetches a library and its classifier switches.
func (s *Store) GetLibrary(ctx context.Context, id string) (*Library, error) {
	ctx = sqlitex.EnsureContext(ctx)
	lib := &Library{ID: id}
	var createdRaw string
	err := s.db.QueryRowContext(ctx, `SELECT name, created_at FROM libraries WHERE id = ?`, id).Scan(&lib.Name, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get library: %w", err)
	}
	if created, err := sqlitex.ParseTime(createdRaw); err == nil {
		lib.CreatedAt = created
	}
	flags, err := s.LibraryFlags(ctx, id)
	if err != nil {
		return nil, err
	}
	lib.Classifiers = flags
	return lib, nil
}

// LibraryByName looks a library up by its unique name.
func (s *Store) LibraryByName(ctx context.Context, name string) (*Library, error) {
	var id string
	err := s.db.QueryRowContext(sqlitex.EnsureContext(ctx), `SELECT id FROM libraries WHERE name = ?`, strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("library by name: %w", err)
	}
	return s.GetLibrary(ctx, id)
}

// ListLibraries returns every library ordered by name.
func (s *Store) ListLibraries(ctx context.Context) ([]*Library, error) {
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx), `SELECT id FROM libraries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	libraries := make([]*Library, 0, len(ids))
	for _, id := range ids {
		lib, err := s.GetLibrary(ctx, id)
		if err != nil {
			return nil, err
		}
		libraries = append(libraries, lib)
	}
	return libraries, nil
}

// LibraryFlags returns the classifier switches of a library. Kinds never set
// are absent, which callers treat as disabled.
func (s *Store) LibraryFlags(ctx context.Context, libraryID string) (map[string]bool, error) {
	ctx = sqlitex.EnsureContext(ctx)
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM libraries WHERE id = ?`, libraryID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("library flags: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, libraryID)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, enabled FROM library_classifiers WHERE library_id = ?`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("library flags: %w", err)
	}
	defer rows.Close()

	flags := make(map[string]bool)
	for rows.Next() {
		var (
			kind    string
			enabled int
		)
		if err := rows.Scan(&kind, &enabled); err != nil {
			return nil, err
		}
		flags[kind] = enabled != 0
	}
	return flags, rows.Err()
}

// AddPhoto registers a photo and its first file.
func (s *Store) AddPhoto(ctx context.Context, input NewPhoto) (*Photo, *PhotoFile, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, nil, errors.New("add photo: path is required")
	}
	if _, err := s.GetLibrary(ctx, input.LibraryID); err != nil {
		return nil, nil, err
	}

	photoID := uuid.NewString()
	fileID := uuid.NewString()
	now := sqlitex.Now()
	err := sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO photos (id, library_id, taken_at, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			photoID, input.LibraryID, sqlitex.TimeArg(input.TakenAt), floatArg(input.Latitude), floatArg(input.Longitude), now,
		); err != nil {
			return fmt.Errorf("insert photo: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO photo_files (id, photo_id, path, mime_type, bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			fileID, photoID, input.Path, sqlitex.NullableString(input.MimeType), input.Bytes, now,
		); err != nil {
			return fmt.Errorf("insert photo file: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	photo, err := s.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, nil, err
	}
	files, err := s.PhotoFiles(ctx, photoID)
	if err != nil {
		return nil, nil, err
	}
	return photo, files[0], nil
}

// GetPhoto fetches a photo. A missing photo yields ErrPhotoNotFound.
func (s *Store) GetPhoto(ctx context.Context, id string) (*Photo, error) {
	var (
		photo      = &Photo{ID: id}
		takenRaw   sql.NullString
		lat, lon   sql.NullFloat64
		createdRaw string
	)
	err := s.db.QueryRowContext(sqlitex.EnsureContext(ctx),
		`SELECT library_id, taken_at, latitude, longitude, created_at FROM photos WHERE id = ?`, id,
	).Scan(&photo.LibraryID, &takenRaw, &lat, &lon, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	photo.TakenAt = sqlitex.NullableTime(takenRaw)
	if lat.Valid {
		photo.Latitude = &lat.Float64
	}
	if lon.Valid {
		photo.Longitude = &lon.Float64
	}
	if created, err := sqlitex.ParseTime(createdRaw); err == nil {
		photo.CreatedAt = created
	}
	return photo, nil
}

// PhotoFiles lists the files of a photo in registration order.
func (s *Store) PhotoFiles(ctx context.Context, photoID string) ([]*PhotoFile, error) {
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx),
		`SELECT id, path, mime_type, bytes, raw_processed, raw_output_path, created_at
         FROM photo_files WHERE photo_id = ? ORDER BY created_at, rowid`, photoID)
	if err != nil {
		return nil, fmt.Errorf("photo files: %w", err)
	}
	defer rows.Close()

	var files []*PhotoFile
	for rows.Next() {
		var (
			file       = &PhotoFile{PhotoID: photoID}
			mimeType   sql.NullString
			rawOutput  sql.NullString
			processed  int
			createdRaw string
		)
		if err := rows.Scan(&file.ID, &file.Path, &mimeType, &file.Bytes, &processed, &rawOutput, &createdRaw); err != nil {
			return nil, err
		}
		file.MimeType = mimeType.String
		file.RawOutputPath = rawOutput.String
		file.RawProcessed = processed != 0
		if created, err := sqlitex.ParseTime(createdRaw); err == nil {
			file.CreatedAt = created
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		if _, err := s.GetPhoto(ctx, photoID); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// MarkRawProcessed records the outcome of raw processing for a file. An empty
// output path means the file itself is already displayable.
func (s *Store) MarkRawProcessed(ctx context.Context, fileID, mimeType, outputPath string) error {
	res, err := sqlitex.Exec(ctx, s.db,
		`UPDATE photo_files SET raw_processed = 1, mime_type = COALESCE(?, mime_type), raw_output_path = ? WHERE id = ?`,
		sqlitex.NullableString(mimeType), sqlitex.NullableString(outputPath), fileID)
	if err != nil {
		return fmt.Errorf("mark raw processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: file %s", ErrPhotoNotFound, fileID)
	}
	return nil
}

// RemovePhoto deletes a photo with its files and tags.
func (s *Store) RemovePhoto(ctx context.Context, id string) error {
	res, err := sqlitex.Exec(ctx, s.db, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove photo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
	}
	return nil
}

// PhotoIDs lists photo identifiers of a library, or of every library when
// libraryID is empty.
func (s *Store) PhotoIDs(ctx context.Context, libraryID string) ([]string, error) {
	query := `SELECT id FROM photos`
	var args []any
	if libraryID != "" {
		query += ` WHERE library_id = ?`
		args = append(args, libraryID)
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func floatArg(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

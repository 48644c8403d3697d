package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"photonix/internal/sqlitex"
)

// NormalizeTagName trims and NFC-normalizes a tag name so visually identical
// names from different classifiers map to one tag.
func NormalizeTagName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// DisplayName renders a tag name for terminal output.
func DisplayName(name string) string {
	return cases.Title(language.English).String(name)
}

// AttachTag adds one tag to a photo, creating the tag if needed.
func (s *Store) AttachTag(ctx context.Context, photoID, source string, input TagInput) (*PhotoTag, error) {
	var attached *PhotoTag
	err := sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		libraryID, err := photoLibrary(ctx, tx, photoID)
		if err != nil {
			return err
		}
		tag, err := attach(ctx, tx, libraryID, photoID, source, input, map[string]string{})
		if err != nil {
			return err
		}
		attached = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

// ReplaceTags swaps every tag of tagType on the photo for inputs in one
// transaction. Re-running a classifier therefore never duplicates tags.
func (s *Store) ReplaceTags(ctx context.Context, photoID string, tagType TagType, source string, inputs []TagInput) ([]*PhotoTag, error) {
	var attached []*PhotoTag
	err := sqlitex.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		attached = attached[:0]
		libraryID, err := photoLibrary(ctx, tx, photoID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM photo_tags WHERE photo_id = ? AND tag_id IN (SELECT id FROM tags WHERE type = ?)`,
			photoID, tagType,
		); err != nil {
			return fmt.Errorf("clear %s tags: %w", tagType, err)
		}
		resolved := make(map[string]string, len(inputs))
		for _, input := range inputs {
			if input.Type == "" {
				input.Type = tagType
			}
			if input.Type != tagType {
				return fmt.Errorf("replace %s tags: input %q has type %s", tagType, input.Name, input.Type)
			}
			tag, err := attach(ctx, tx, libraryID, photoID, source, input, resolved)
			if err != nil {
				return err
			}
			attached = append(attached, tag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

func photoLibrary(ctx context.Context, tx *sql.Tx, photoID string) (string, error) {
	var libraryID string
	err := tx.QueryRowContext(ctx, `SELECT library_id FROM photos WHERE id = ?`, photoID).Scan(&libraryID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrPhotoNotFound, photoID)
	}
	if err != nil {
		return "", fmt.Errorf("photo library: %w", err)
	}
	return libraryID, nil
}

// attach resolves the tag (and its parent) and inserts the photo_tags row.
// resolved caches tag ids by name within one transaction.
func attach(ctx context.Context, tx *sql.Tx, libraryID, photoID, source string, input TagInput, resolved map[string]string) (*PhotoTag, error) {
	name := NormalizeTagName(input.Name)
	if name == "" {
		return nil, errors.New("attach tag: name is required")
	}
	if input.Type == "" {
		input.Type = TagGeneric
	}

	parentID := ""
	parentName := NormalizeTagName(input.Parent)
	if parentName != "" {
		id, ok := resolved[parentName]
		if !ok {
			var err error
			id, err = ensureTag(ctx, tx, libraryID, parentName, input.Type, "")
			if err != nil {
				return nil, err
			}
			resolved[parentName] = id
		}
		parentID = id
	}

	tagID, err := ensureTag(ctx, tx, libraryID, name, input.Type, parentID)
	if err != nil {
		return nil, err
	}
	resolved[name] = tagID

	tag := &PhotoTag{
		ID:           uuid.NewString(),
		PhotoID:      photoID,
		TagID:        tagID,
		Name:         name,
		Type:         input.Type,
		Parent:       parentName,
		Source:       source,
		Confidence:   input.Confidence,
		Significance: input.Significance,
		Box:          input.Box,
	}
	var x, y, w, h any
	if input.Box != nil {
		x, y, w, h = input.Box.X, input.Box.Y, input.Box.Width, input.Box.Height
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO photo_tags (id, photo_id, tag_id, source, confidence, significance, position_x, position_y, size_x, size_y, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tag.ID, photoID, tagID, source, input.Confidence, input.Significance, x, y, w, h, sqlitex.Now(),
	); err != nil {
		return nil, fmt.Errorf("insert photo tag: %w", err)
	}
	return tag, nil
}

func ensureTag(ctx context.Context, tx *sql.Tx, libraryID, name string, tagType TagType, parentID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM tags WHERE library_id = ? AND type = ? AND name = ? AND COALESCE(parent_id, '') = ?`,
		libraryID, tagType, name, parentID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup tag: %w", err)
	}
	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tags (id, library_id, name, type, parent_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, libraryID, name, tagType, sqlitex.NullableString(parentID), sqlitex.Now(),
	); err != nil {
		return "", fmt.Errorf("insert tag: %w", err)
	}
	return id, nil
}

// PhotoTags lists the tags attached to a photo grouped by type, highest
// significance first within each type.
func (s *Store) PhotoTags(ctx context.Context, photoID string) ([]*PhotoTag, error) {
	rows, err := s.db.QueryContext(sqlitex.EnsureContext(ctx),
		`SELECT pt.id, pt.tag_id, t.name, t.type, COALESCE(p.name, ''), pt.source, pt.confidence, pt.significance,
                pt.position_x, pt.position_y, pt.size_x, pt.size_y
         FROM photo_tags pt
         JOIN tags t ON t.id = pt.tag_id
         LEFT JOIN tags p ON p.id = t.parent_id
         WHERE pt.photo_id = ?
         ORDER BY t.type, pt.significance DESC, pt.rowid`, photoID)
	if err != nil {
		return nil, fmt.Errorf("photo tags: %w", err)
	}
	defer rows.Close()

	var tags []*PhotoTag
	for rows.Next() {
		var (
			tag        = &PhotoTag{PhotoID: photoID}
			x, y, w, h sql.NullFloat64
		)
		if err := rows.Scan(&tag.ID, &tag.TagID, &tag.Name, &tag.Type, &tag.Parent, &tag.Source,
			&tag.Confidence, &tag.Significance, &x, &y, &w, &h); err != nil {
			return nil, err
		}
		if x.Valid && y.Valid && w.Valid && h.Valid {
			tag.Box = &Box{X: x.Float64, Y: y.Float64, Width: w.Float64, Height: h.Float64}
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Package input reads the entity list a run works through.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/proofpack/internal/model"
)

// ErrInvalidRow marks a row that cannot become an entity
var ErrInvalidRow = errors.New("invalid input row")

// ReadEntities reads entities from file. Each row is either
//
//	<url>[,<display name>]
//	<entity id>,<collection id>[,<display name>]
//
// Blank lines and lines starting with # are skipped. Invalid rows are
// logged and skipped. Duplicate ids keep the first row.
func ReadEntities(file, basePath string, logger *slog.Logger) ([]model.Entity, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, basePath, logger)
}

// Parse reads entities from r; see ReadEntities
func Parse(r io.Reader, basePath string, logger *slog.Logger) ([]model.Entity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.LazyQuotes = true

	var entities []model.Entity
	seen := make(map[string]bool)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.Warn("skipping malformed input row", "line", parseErr.Line, "error", parseErr.Err)
				continue
			}
			return nil, fmt.Errorf("read input: %w", err)
		}

		line, _ := reader.FieldPos(0)
		entity, err := ParseRow(record, basePath)
		if err != nil {
			logger.Warn("skipping input row", "line", line, "error", err)
			continue
		}

		if seen[entity.ID] {
			logger.Debug("dropping duplicate entity", "line", line, "entity_id", entity.ID)
			continue
		}
		seen[entity.ID] = true
		entities = append(entities, entity)
	}

	return entities, nil
}

// ParseRow turns one split row into an entity
func ParseRow(fields []string, basePath string) (model.Entity, error) {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) == 0 || fields[0] == "" {
		return model.Entity{}, fmt.Errorf("%w: empty row", ErrInvalidRow)
	}

	first := fields[0]
	if strings.Contains(first, "://") {
		name := ""
		if len(fields) > 1 {
			name = strings.Join(fields[1:], ", ")
		}
		entity, err := model.NewEntityFromURL(first, name)
		if err != nil {
			return model.Entity{}, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}
		return entity, nil
	}

	if len(fields) < 2 {
		return model.Entity{}, fmt.Errorf("%w: %q has no collection id", ErrInvalidRow, first)
	}
	if basePath == "" {
		return model.Entity{}, fmt.Errorf("%w: id rows need a base path", ErrInvalidRow)
	}

	name := ""
	if len(fields) > 2 {
		name = strings.Join(fields[2:], ", ")
	}
	entity, err := model.NewEntityFromIDs(basePath, first, fields[1], name)
	if err != nil {
		return model.Entity{}, fmt.Errorf("%w: %w", ErrInvalidRow, err)
	}
	return entity, nil
}

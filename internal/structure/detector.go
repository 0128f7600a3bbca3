// Package structure infers which column holds which semantic role for a
// file layout, once per distinct column set.
package structure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spesalog/spesalog/internal/agent"
	"github.com/spesalog/spesalog/internal/domain"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/parse"
	"github.com/spesalog/spesalog/internal/store"
)

// ErrDetectionFailed marks an unusable model answer during structure
// resolution. Resolve degrades on it instead of failing the upload.
var ErrDetectionFailed = errors.New("structure: detection failed")

// Config holds the sampling parameters.
type Config struct {
	// SamplePercent of rows is shown to the model, at least SampleFloor.
	SamplePercent float64
	SampleFloor   int
	// DateParseRate is the per-column date parse success rate required to
	// shortlist a column as the date column.
	DateParseRate float64
}

// Detector resolves a FileStructure for an upload, reusing a stored one
// when the column set was seen before.
type Detector struct {
	store store.StructureStore
	model agent.Categorizer
	cfg   Config
}

func NewDetector(s store.StructureStore, model agent.Categorizer, cfg Config) *Detector {
	return &Detector{store: s, model: model, cfg: cfg}
}

// Resolve returns the structure for the given rows. On a cache hit no
// model call happens. On a model failure the result degrades to a
// low-confidence structure carrying at most the heuristic date column.
func (d *Detector) Resolve(ctx context.Context, rows []domain.RawRow, columns []string) (*domain.FileStructure, agent.TokenUsage, error) {
	log := logger.FromContext(ctx)
	hash := domain.StructureHash(columns)

	if cached, err := d.store.GetStructure(ctx, hash); err == nil && cached.Complete() {
		log.Debug().Str("hash", hash).Msg("structure cache hit")
		return cached, agent.TokenUsage{}, nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, agent.TokenUsage{}, fmt.Errorf("Resolve: read structure: %w", err)
	}

	sample := d.sampleRows(rows)
	dateColumn := d.detectDateColumn(sample, columns)

	resolved, usage, err := d.resolveWithModel(ctx, sample, columns, dateColumn)
	if err != nil {
		if !errors.Is(err, ErrDetectionFailed) {
			return nil, usage, err
		}
		log.Warn().Err(err).Str("hash", hash).Msg("structure detection degraded to low confidence")
		resolved = &domain.FileStructure{
			Hash:          hash,
			Columns:       append([]string(nil), columns...),
			DateColumn:    dateColumn,
			LowConfidence: true,
		}
	}

	saved, err := d.store.SaveStructure(ctx, resolved)
	if err != nil {
		return nil, usage, fmt.Errorf("Resolve: save structure: %w", err)
	}
	return saved, usage, nil
}

func (d *Detector) resolveWithModel(ctx context.Context, sample []domain.RawRow, columns []string, dateColumn string) (*domain.FileStructure, agent.TokenUsage, error) {
	s, usage, err := d.model.DetectStructure(ctx, agent.StructureRequest{
		Columns:        columns,
		Sample:         sample,
		DateColumnHint: dateColumn,
	})
	if err != nil {
		return nil, usage, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}
	// The heuristic date column outranks a model guess.
	if dateColumn != "" {
		s.DateColumn = dateColumn
	}
	if !s.Complete() {
		return nil, usage, fmt.Errorf("%w: incomplete role assignment", ErrDetectionFailed)
	}
	return s, usage, nil
}

// sampleRows takes the configured fraction of rows, never fewer than the
// floor, from the head of the file where real data starts.
func (d *Detector) sampleRows(rows []domain.RawRow) []domain.RawRow {
	n := int(float64(len(rows)) * d.cfg.SamplePercent)
	if n < d.cfg.SampleFloor {
		n = d.cfg.SampleFloor
	}
	if n > len(rows) {
		n = len(rows)
	}
	return rows[:n]
}

// detectDateColumn shortlists columns whose values parse as dates above
// the configured rate, then disambiguates multiple candidates by majority
// vote on which column is systematically most recent across rows. Booking
// dates run ahead of value dates in typical ledger layouts.
func (d *Detector) detectDateColumn(sample []domain.RawRow, columns []string) string {
	if len(sample) == 0 {
		return ""
	}

	type stat struct {
		parsed int
		total  int
	}
	stats := make(map[string]*stat, len(columns))
	parsedDates := make(map[string][]time.Time, len(columns))
	for _, col := range columns {
		stats[col] = &stat{}
	}

	for _, row := range sample {
		for _, col := range columns {
			v := strings.TrimSpace(row.Value(col))
			if v == "" {
				continue
			}
			st := stats[col]
			st.total++
			if t, ok := parse.ParseDate(v); ok {
				st.parsed++
				parsedDates[col] = append(parsedDates[col], t)
			} else {
				parsedDates[col] = append(parsedDates[col], time.Time{})
			}
		}
	}

	var candidates []string
	for _, col := range columns {
		st := stats[col]
		if st.total == 0 {
			continue
		}
		if float64(st.parsed)/float64(st.total) > d.cfg.DateParseRate {
			candidates = append(candidates, col)
		}
	}
	switch len(candidates) {
	case 0:
		return ""
	case 1:
		return candidates[0]
	}

	// Majority vote: count, per candidate, the rows where it carries the
	// most recent date among all candidates.
	wins := make(map[string]int, len(candidates))
	rowCount := len(parsedDates[candidates[0]])
	for i := 0; i < rowCount; i++ {
		best := ""
		var bestTime time.Time
		for _, col := range candidates {
			dates := parsedDates[col]
			if i >= len(dates) || dates[i].IsZero() {
				continue
			}
			if best == "" || dates[i].After(bestTime) {
				best = col
				bestTime = dates[i]
			}
		}
		if best != "" {
			wins[best]++
		}
	}

	winner := candidates[0]
	for _, col := range candidates[1:] {
		if wins[col] > wins[winner] {
			winner = col
		}
	}
	return winner
}

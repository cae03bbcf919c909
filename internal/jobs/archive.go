package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"policypulse/internal/types"
)

// ArchiveStore defines the database operations needed by the
// OutreachArchiver.
type ArchiveStore interface {
	// ListOutreachOlderThan returns outreach log rows with sent_at before
	// cutoff, oldest first.
	ListOutreachOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.OutreachLog, error)

	// DeleteOutreachByIDs removes outreach rows by ID, returning the count.
	DeleteOutreachByIDs(ctx context.Context, ids []string) (int, error)
}

// ArchiveWriter persists one serialized archive batch. The default
// implementation writes gzip files to a local directory; an S3-backed
// implementation satisfies the same interface.
type ArchiveWriter interface {
	WriteArchive(ctx context.Context, name string, data []byte) error
}

// FileArchiveWriter writes archive batches as files under Dir.
type FileArchiveWriter struct {
	Dir string
}

// WriteArchive writes the batch to Dir/name, creating Dir if needed.
func (w *FileArchiveWriter) WriteArchive(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir %s: %w", w.Dir, err)
	}
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing archive %s: %w", path, err)
	}
	return nil
}

// ArchiverConfig holds the tunables for the OutreachArchiver.
type ArchiverConfig struct {
	RetentionDays int // defaults to 180
	BatchSize     int // defaults to 1000
}

// OutreachArchiver exports outreach log rows older than the retention
// window to gzip-compressed JSONL and deletes them, keeping the
// append-only table bounded.
type OutreachArchiver struct {
	store         ArchiveStore
	writer        ArchiveWriter
	retentionDays int
	batchSize     int
	logger        *slog.Logger
}

// NewOutreachArchiver creates an OutreachArchiver.
func NewOutreachArchiver(store ArchiveStore, writer ArchiveWriter, cfg ArchiverConfig, logger *slog.Logger) *OutreachArchiver {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 180
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutreachArchiver{
		store:         store,
		writer:        writer,
		retentionDays: cfg.RetentionDays,
		batchSize:     cfg.BatchSize,
		logger:        logger,
	}
}

// ArchiveOutreach runs the fetch-write-delete cycle in batches until no
// rows older than the retention cutoff remain. A batch is deleted only
// after its archive file was written, so a crash mid-run loses nothing;
// rerunning re-exports the surviving rows.
//
// Returns the number of rows archived.
func (a *OutreachArchiver) ArchiveOutreach(ctx context.Context, now time.Time) (int, error) {
	if a.writer == nil {
		a.logger.WarnContext(ctx, "outreach archive writer not configured, skipping")
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -a.retentionDays)
	total := 0

	for batch := 0; ; batch++ {
		rows, err := a.store.ListOutreachOlderThan(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("listing outreach rows for archival: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		data, err := compressJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("serializing outreach archive batch: %w", err)
		}

		name := fmt.Sprintf("outreach_%s_%d_%03d.jsonl.gz",
			cutoff.Format("20060102"), now.UnixNano(), batch)
		if err := a.writer.WriteArchive(ctx, name, data); err != nil {
			return total, fmt.Errorf("writing outreach archive %s: %w", name, err)
		}

		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		deleted, err := a.store.DeleteOutreachByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("deleting archived outreach rows: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "archived outreach batch",
			"rows", deleted,
			"archive", name,
			"total_archived", total,
		)

		if len(rows) < a.batchSize {
			break
		}
	}

	return total, nil
}

// compressJSONL serializes the rows to newline-delimited JSON and
// gzip-compresses the result.
func compressJSONL(rows []types.OutreachLog) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	enc := json.NewEncoder(gz)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("marshaling outreach row %s: %w", row.ID, err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

package storage

import (
	"context"
	"io"

	"olx-watcher/models"
)

// Store persists listings and decides novelty. Reconcile and MarkSeen are
// serialised per Store instance; List and Stats observe committed state only.
type Store interface {
	// Reconcile inserts candidates with unknown ids (scraped_at = now,
	// seen = false) and counts known ids as duplicates without touching the
	// stored record. A batch is applied entirely or not at all.
	Reconcile(ctx context.Context, candidates []models.Listing) (models.ReconcileResult, error)
	// MarkSeen sets seen = true on every stored listing whose id is given and
	// returns how many stored listings matched. Unknown ids are ignored.
	MarkSeen(ctx context.Context, ids []string) (int, error)
	// List returns stored listings, most recent scraped_at first.
	List(ctx context.Context, filter models.ListFilter) ([]models.Listing, error)
	Stats(ctx context.Context) (models.Stats, error)
	Close() error
}

// RunHistory keeps finished run records for callers to query.
type RunHistory interface {
	Record(ctx context.Context, rec *models.RunRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]*models.RunRecord, error)
}

// Exporter renders listings into a downloadable file format.
type Exporter interface {
	Export(w io.Writer, listings []models.Listing) error
	ContentType() string
	Extension() string
}

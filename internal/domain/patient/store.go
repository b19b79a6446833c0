package patient

import (
	"context"
)

// Store is the document store the pipeline writes to. Implementations must
// make UpsertBatch atomic per document: insert when the key is absent,
// otherwise overwrite every field except created_at. The handle is acquired
// once at startup and released through Close on every exit path.
type Store interface {
	Ping(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error
	UpsertBatch(ctx context.Context, docs []*Document) (BatchResult, error)
	Count(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// BatchResult is the per-document outcome of one bulk upsert call. Failed
// holds the documents that were rejected; the rest of the batch still lands.
type BatchResult struct {
	Inserted int
	Updated  int
	Failed   []*WriteError
}

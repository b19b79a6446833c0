// Package mongodb constructs the MongoDB client used by the document store.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewClient builds a client with a bounded server selection timeout. The
// driver dials lazily; the readiness gate owns the wait for the server to
// come up.
func NewClient(ctx context.Context, uri, appName string, selectionTimeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetServerSelectionTimeout(selectionTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	return client, nil
}

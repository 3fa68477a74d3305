package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the production Store backed by Cloud Firestore.
type Firestore struct {
	c *firestore.Client
}

// NewFirestore connects to the given project. An empty credentialsFile
// falls back to application default credentials.
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	return &Firestore{c: c}, nil
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	snap, err := f.c.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return snap.Data(), nil
}

func (f *Firestore) Add(ctx context.Context, collection string, doc map[string]any) (string, error) {
	ref, _, err := f.c.Collection(collection).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (f *Firestore) Merge(ctx context.Context, collection, id string, doc map[string]any) error {
	translated := make(map[string]any, len(doc))
	for k, v := range doc {
		translated[k] = fsValue(v)
	}
	if _, err := f.c.Collection(collection).Doc(id).Set(ctx, translated, firestore.MergeAll); err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return nil
}

func (f *Firestore) Update(ctx context.Context, collection, id string, updates []Update) error {
	_, err := f.c.Collection(collection).Doc(id).Update(ctx, fsUpdates(updates))
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (f *Firestore) BatchUpdate(ctx context.Context, collection string, docs map[string][]Update) error {
	bw := f.c.BulkWriter(ctx)
	jobs := make(map[string]*firestore.BulkWriterJob, len(docs))
	for id, updates := range docs {
		job, err := bw.Update(f.c.Collection(collection).Doc(id), fsUpdates(updates))
		if err != nil {
			bw.End()
			return fmt.Errorf("batch update %s/%s: %w", collection, id, err)
		}
		jobs[id] = job
	}
	bw.End()

	for id, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("batch update %s/%s: %w", collection, id, err)
		}
	}
	return nil
}

func (f *Firestore) Stream(ctx context.Context, collection string, fn func(id string, doc map[string]any) error) error {
	iter := f.c.Collection(collection).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream %s: %w", collection, err)
		}
		if err := fn(snap.Ref.ID, snap.Data()); err != nil {
			return err
		}
	}
}

func (f *Firestore) Close() error {
	return f.c.Close()
}

func fsUpdates(updates []Update) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		out = append(out, firestore.Update{
			FieldPath: firestore.FieldPath(u.Path),
			Value:     fsValue(u.Value),
		})
	}
	return out
}

func fsValue(v any) any {
	switch v := v.(type) {
	case deleteMarker:
		return firestore.Delete
	case incrementMarker:
		return firestore.Increment(v.delta)
	case arrayUnionMarker:
		return firestore.ArrayUnion(v.elems...)
	default:
		return v
	}
}

// Package journal persists the change set of each successful commit as a JSON
// blob so external readers can replay what a transaction wrote.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"unitofwork/internal/blob"
	"unitofwork/pkg/domain"
)

// Prefix is the key namespace every journal entry lives under.
const Prefix = "journal/"

const contentType = "application/json"

// BlobJournal writes change sets into a blob.Store. Entries are create-only:
// replaying the same transaction sequence fails with blob.ErrExists.
type BlobJournal struct {
	store blob.Store
}

// New wraps store as a journal.
func New(store blob.Store) (*BlobJournal, error) {
	if store == nil {
		return nil, errors.New("journal requires a blob store")
	}
	return &BlobJournal{store: store}, nil
}

// Store exposes the underlying blob store.
func (j *BlobJournal) Store() blob.Store { return j.store }

// Key returns the blob key of a transaction's nth commit.
func Key(transactionID string, sequence int) string {
	return fmt.Sprintf("%s%s/%06d.json", Prefix, transactionID, sequence)
}

// Record implements core.Journal.
func (j *BlobJournal) Record(ctx context.Context, changes domain.ChangeSet) error {
	if strings.TrimSpace(changes.TransactionID) == "" {
		return errors.New("change set has no transaction id")
	}
	key := Key(changes.TransactionID, changes.Sequence)
	if _, err := j.store.Head(ctx, key); err == nil {
		return fmt.Errorf("write journal entry %s: %w", key, blob.ErrExists)
	} else if !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("check journal entry %s: %w", key, err)
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode change set: %w", err)
	}
	_, err = j.store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"transaction": changes.TransactionID,
			"sequence":    strconv.Itoa(changes.Sequence),
			"changes":     strconv.Itoa(len(changes.Changes)),
		},
	})
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// List returns the keys recorded for a transaction in commit order. An empty
// transactionID lists every entry.
func (j *BlobJournal) List(ctx context.Context, transactionID string) ([]string, error) {
	prefix := Prefix
	if transactionID != "" {
		prefix += transactionID + "/"
	}
	infos, err := j.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// Read decodes the change set stored at key.
func (j *BlobJournal) Read(ctx context.Context, key string) (domain.ChangeSet, error) {
	_, rc, err := j.store.Get(ctx, key)
	if err != nil {
		return domain.ChangeSet{}, err
	}
	defer func() { _ = rc.Close() }()
	var out domain.ChangeSet
	if err := json.NewDecoder(rc).Decode(&out); err != nil {
		return domain.ChangeSet{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

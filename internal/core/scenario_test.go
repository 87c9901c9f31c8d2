package core

import (
	"context"
	"testing"

	"unitofwork/internal/infra/persistence/memory"
	"unitofwork/pkg/domain"
	"unitofwork/testutil"
)

// TestAccountLifecycle walks one aggregate through insert, update, rollback
// and delete, checking the shared version after each step.
func TestAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mapper := &flakyMapper{Store: store}
	account := testutil.NewAccount("X")

	tx := newTx(t, mapper)
	if err := tx.RegisterNew(account); err != nil {
		t.Fatalf("register new: %v", err)
	}
	mustCommit(t, tx)
	id, ok := account.ID()
	if !ok {
		t.Fatalf("expected id after insert")
	}
	if state, _ := tx.StateOf(account); state != domain.StateDirty {
		t.Fatalf("expected dirty after insert, got %s", state)
	}
	if v := account.Version().Version(); v != 0 {
		t.Fatalf("expected version 0 after insert, got %d", v)
	}
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}

	tx = newTx(t, mapper)
	if err := tx.RegisterDirty(account); err != nil {
		t.Fatalf("register dirty: %v", err)
	}
	account.MustSet("email", "Y")
	mustCommit(t, tx)
	rec, err := store.Fetch(ctx, testutil.Account, id)
	if err != nil || rec.Values["email"] != "Y" {
		t.Fatalf("expected persisted email Y, got %+v (%v)", rec, err)
	}
	if v := account.Version().Version(); v != 1 {
		t.Fatalf("expected version 1 after update, got %d", v)
	}
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}

	tx = newTx(t, mapper)
	if err := tx.RegisterDirty(account); err != nil {
		t.Fatalf("register dirty: %v", err)
	}
	account.MustSet("email", "Z")
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if account.Get("email") != "Y" {
		t.Fatalf("expected rollback to restore Y, got %v", account.Get("email"))
	}
	updates := mapper.updates
	mustCommit(t, tx)
	if mapper.updates != updates {
		t.Fatalf("expected no write after rollback, got %d new updates", mapper.updates-updates)
	}

	if err := tx.RegisterDeleted(account); err != nil {
		t.Fatalf("register deleted: %v", err)
	}
	mustCommit(t, tx)
	if _, err := store.Fetch(ctx, testutil.Account, id); !domain.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, tracked := tx.StateOf(account); tracked {
		t.Fatalf("deleted object must be untracked")
	}
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

package integration

import (
	"context"
	"path/filepath"
	"testing"

	"unitofwork/internal/blob"
	"unitofwork/internal/config"
	"unitofwork/internal/core"
	"unitofwork/internal/journal"
	"unitofwork/pkg/domain"
	"unitofwork/testutil"
)

// TestIntegrationSmoke runs an insert/update/delete cycle for every
// in-process backend against every journal sink.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	backends := []struct {
		name string
		cfg  func(t *testing.T) config.Config
	}{
		{"memory-store", func(*testing.T) config.Config {
			return config.Config{StorageDriver: config.StorageMemory}
		}},
		{"sqlite-store", func(t *testing.T) config.Config {
			return config.Config{StorageDriver: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "uow.db")}
		}},
	}
	sinks := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{"memory-blob", func(t *testing.T) blob.Store {
			s, err := blob.Open(ctx, blob.Config{Driver: blob.DriverMemory})
			if err != nil {
				t.Fatalf("memory blob: %v", err)
			}
			return s
		}},
		{"filesystem-blob", func(t *testing.T) blob.Store {
			s, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, FSRoot: t.TempDir()})
			if err != nil {
				t.Fatalf("filesystem blob: %v", err)
			}
			return s
		}},
		{"mock-s3-blob", func(*testing.T) blob.Store { return blob.NewMockS3ForTests() }},
	}

	for _, b := range backends {
		for _, s := range sinks {
			t.Run(b.name+"/"+s.name, func(t *testing.T) {
				backend, err := core.OpenBackend(ctx, b.cfg(t), testutil.Classes()...)
				if err != nil {
					t.Skipf("backend unavailable: %v", err)
				}
				defer func() { _ = backend.Close() }()
				j, err := journal.New(s.open(t))
				if err != nil {
					t.Fatalf("journal: %v", err)
				}
				svc, err := core.NewService(backend, core.WithRegistry(core.NewRegistry()), core.WithJournal(j))
				if err != nil {
					t.Fatalf("service: %v", err)
				}
				runCycle(ctx, t, svc, j)
			})
		}
	}
}

func runCycle(ctx context.Context, t *testing.T, svc *core.Service, j *journal.BlobJournal) {
	t.Helper()
	owner := testutil.NewAccount("owner@example.com")
	org := testutil.NewOrganization("Acme")
	if err := org.SetReference("owner", owner); err != nil {
		t.Fatalf("owner: %v", err)
	}
	team := testutil.NewTeam(org, "core")
	member := testutil.NewMember(team, "ada").MustSet("score", 9.5).MustSet("admin", true)

	tx, err := svc.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	// owner and the organisation are found through references and parents
	if err := tx.RegisterNew(member); err != nil {
		t.Fatalf("register member: %v", err)
	}
	if err := tx.RegisterNew(team); err != nil {
		t.Fatalf("register team: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("insert commit: %v", err)
	}

	org.MustSet("name", "Acme Corp")
	if err := tx.RegisterDeleted(member); err != nil {
		t.Fatalf("register deleted: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("update commit: %v", err)
	}
	if err := tx.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}

	orgID, _ := org.ID()
	rec, err := svc.Fetch(ctx, testutil.Organization, orgID)
	if err != nil {
		t.Fatalf("fetch org: %v", err)
	}
	ownerID, _ := owner.ID()
	if rec.Values["name"] != "Acme Corp" || rec.Refs["owner"] != ownerID {
		t.Fatalf("unexpected org row %+v", rec)
	}
	memberID, _ := member.ID()
	if _, err := svc.Fetch(ctx, testutil.Member, memberID); !domain.IsNotFound(err) {
		t.Fatalf("expected deleted member, got %v", err)
	}

	keys, err := j.List(ctx, tx.ID().String())
	if err != nil || len(keys) != 2 {
		t.Fatalf("expected two journal entries, got %v (%v)", keys, err)
	}
	first, err := j.Read(ctx, keys[0])
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if first.Count(domain.ActionInsert) != 4 || first.Attempts != 3 {
		t.Fatalf("unexpected first change set: %d inserts after %d attempts", first.Count(domain.ActionInsert), first.Attempts)
	}
	second, err := j.Read(ctx, keys[1])
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if second.Count(domain.ActionUpdate) != 1 || second.Count(domain.ActionDelete) != 1 {
		t.Fatalf("unexpected second change set %+v", second)
	}
}

// TestSQLiteOptimisticLockAcrossHandles opens two handles on one database
// file and checks that a write through the stale handle is rejected.
func TestSQLiteOptimisticLockAcrossHandles(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StorageDriver: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "shared.db")}
	first, err := core.OpenBackend(ctx, cfg, testutil.Classes()...)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = first.Close() }()
	second, err := core.OpenBackend(ctx, cfg, testutil.Classes()...)
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	defer func() { _ = second.Close() }()

	org := testutil.NewOrganization("Acme")
	if err := core.RunInTransaction(ctx, first, func(tx *core.Transaction) error { return tx.RegisterNew(org) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	vid, _ := org.Version().ID()
	state, err := second.LoadVersion(ctx, vid)
	if err != nil {
		t.Fatalf("load version: %v", err)
	}
	concurrent := domain.LoadSharedVersion(state)
	if err := concurrent.IncrementPersisted(ctx, second); err != nil {
		t.Fatalf("concurrent increment: %v", err)
	}

	err = core.RunInTransaction(ctx, first, func(tx *core.Transaction) error {
		if err := tx.RegisterDirty(org); err != nil {
			return err
		}
		org.MustSet("name", "Stale")
		return nil
	})
	if !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if org.Get("name") != "Acme" {
		t.Fatalf("expected in-memory rollback, got %v", org.Get("name"))
	}
	orgID, _ := org.ID()
	rec, err := first.Fetch(ctx, testutil.Organization, orgID)
	if err != nil || rec.Values["name"] != "Acme" {
		t.Fatalf("expected stored row untouched, got %+v (%v)", rec, err)
	}

	if err := concurrent.Lock(ctx, second, "batch-job"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	fresh, err := first.LoadVersion(ctx, vid)
	if err != nil || fresh.LockedBy != "batch-job" {
		t.Fatalf("expected lock visible through the other handle, got %+v (%v)", fresh, err)
	}
}

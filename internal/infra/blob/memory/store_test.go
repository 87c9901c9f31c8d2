package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"unitofwork/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"tx": "abc"}
	info, err := s.Put(ctx, "journal/a/1.json", strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["tx"] = "mutated"
	if info.Size != 2 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "journal/a/1.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "journal/a/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}" || got.Metadata["tx"] != "abc" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	if _, err := s.Put(ctx, "journal/b/1.json", strings.NewReader("[]"), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := s.List(ctx, "journal/a/")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one blob under prefix, got %v (%v)", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "journal/a/1.json" {
		t.Fatalf("expected sorted listing, got %+v", all)
	}

	if _, err := s.Head(ctx, "journal/a/2.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "journal/a/2.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

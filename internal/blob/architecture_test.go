package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const (
	blobPkg   = "unitofwork/internal/blob"
	driverPkg = "unitofwork/internal/infra/blob"
)

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}

// driverImporters lists "importer -> driver" pairs for every package outside the
// blob packages, tests included, that imports a blob driver directly.
func driverImporters(t *testing.T) []string {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "unitofwork/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	found := make(map[string]struct{})
	for _, pkg := range pkgs {
		if within(pkg.PkgPath, blobPkg) || within(pkg.PkgPath, driverPkg) {
			continue
		}
		for path := range pkg.Imports {
			if within(path, driverPkg) {
				found[pkg.PkgPath+" -> "+path] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Journal and core code must reach blob drivers through Open only.
func TestOnlyBlobPackageImportsDrivers(t *testing.T) {
	violations := driverImporters(t)
	for _, v := range violations {
		t.Errorf("blob driver imported outside internal/blob: %s", v)
	}
	if len(violations) > 0 {
		t.Fatalf("%d forbidden blob driver imports", len(violations))
	}
}

func TestWithin(t *testing.T) {
	cases := map[string]bool{
		"unitofwork/internal/blob":          true,
		"unitofwork/internal/blob/core":     true,
		"unitofwork/internal/blobber":       false,
		"unitofwork/internal/infra/blob/s3": false,
	}
	for path, want := range cases {
		if got := within(path, blobPkg); got != want {
			t.Errorf("within(%q) = %v, want %v", path, got, want)
		}
	}
}

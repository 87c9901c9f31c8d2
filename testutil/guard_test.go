package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImportPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		in   string
		want bool
	}{
		{"domain", DomainImportForbidden, "unitofwork/pkg/domain", true},
		{"domain versioned", DomainImportForbidden, "example.com/pkg/domain@v1.2.3", true},
		{"domain subpackage", DomainImportForbidden, "example.com/pkg/domain/sub", false},
		{"domain lookalike", DomainImportForbidden, "example.com/pkg/domainutil", false},
		{"internal", InternalImportForbidden, "unitofwork/internal/core", true},
		{"internal suffix", InternalImportForbidden, "example.com/internal", false},
		{"internal empty", InternalImportForbidden, "", false},
		{"driver pgx", DriverImportForbidden, "github.com/jackc/pgx/v5/stdlib", true},
		{"driver sql", DriverImportForbidden, "database/sql/driver", true},
		{"driver infra", DriverImportForbidden, "unitofwork/internal/infra/persistence/memory", true},
		{"driver uuid", DriverImportForbidden, "github.com/google/uuid", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Errorf("%s: predicate(%q) = %v, want %v", c.name, c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImportsIgnoresTestsAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, src string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("main.go", "package tmp\nimport (\n\t\"fmt\"\n\talias \"context\"\n)\nfunc X() { fmt.Println(alias.Background()) }\n")
	write("main_test.go", "package tmp\nimport \"forbidden/pkg\"\n")
	write("sub/sub.go", "package sub\nimport \"forbidden/pkg\"\n")
	write("readme.txt", "not go")
	AssertNoDirectImports(t, dir, func(p string) bool { return p == "forbidden/pkg" }, "test files and subdirectories are skipped")
}

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte("package tmp\nimport _ \"database/sql\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "database/sql") {
		t.Fatalf("unexpected violations %v", viols)
	}
	var r recorder
	failIfDirectViolations(&r, "no drivers", viols)
	if !strings.Contains(r.msg, "no drivers") {
		t.Fatalf("expected reason in failure, got %q", r.msg)
	}
	r = recorder{}
	failIfTransitiveViolations(&r, "none", nil)
	if r.msg != "" {
		t.Fatalf("expected no failure, got %q", r.msg)
	}
}

func TestAssertNoTransitiveDependency(t *testing.T) {
	AssertNoTransitiveDependency(t, ".", func(p string) bool {
		return p == "github.com/some/nonexistent/package"
	}, "should not depend on nonexistent package")
}

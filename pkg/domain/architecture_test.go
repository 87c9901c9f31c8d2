package domain_test

import (
	"testing"

	"unitofwork/testutil"
)

func TestDomainStaysStorageAgnostic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain must not import internal packages")
	testutil.AssertNoDirectImports(t, ".", testutil.DriverImportForbidden, "pkg/domain must not import storage drivers")
}

func TestCorePackagesAvoidDrivers(t *testing.T) {
	for _, pattern := range []string{
		"unitofwork/pkg/domain",
		"unitofwork/internal/tracker",
		"unitofwork/internal/history",
	} {
		testutil.AssertNoTransitiveDependency(t, pattern, testutil.DriverImportForbidden, pattern+" must stay free of storage drivers")
	}
}

package history

import (
	"testing"

	"unitofwork/testutil"
)

func TestPushAndLatest(t *testing.T) {
	h := New()
	acct := testutil.NewAccount("first@example.com")
	if h.Latest(acct) != nil {
		t.Fatalf("expected no snapshot for unseen object")
	}
	h.Push(acct)
	acct.MustSet("email", "second@example.com")
	h.Push(acct)

	if got := h.Latest(acct).Get("email"); got != "second@example.com" {
		t.Fatalf("latest snapshot has %v", got)
	}
	snaps := h.Snapshots(acct)
	if len(snaps) != 2 || snaps[0].Get("email") != "first@example.com" {
		t.Fatalf("unexpected snapshots %v", snaps)
	}
}

func TestSnapshotsAreIsolatedFromLaterMutation(t *testing.T) {
	h := New()
	org := testutil.NewOrganization("acme")
	team := testutil.NewTeam(org, "core")
	h.Push(org)

	team.MustSet("name", "renamed")
	testutil.NewTeam(org, "extra")

	if err := org.Restore(h.Latest(org)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := team.Get("name"); got != "core" {
		t.Fatalf("child state not restored: %v", got)
	}
	teams := org.Children("teams")
	if len(teams) != 1 || teams[0] != team {
		t.Fatalf("child list not restored by identity: %v", teams)
	}
}

func TestKeyedByIdentityNotID(t *testing.T) {
	h := New()
	a := testutil.NewAccount("a")
	b := testutil.NewAccount("a")
	h.Push(a)
	if h.Latest(b) != nil {
		t.Fatalf("value-equal object must not share history")
	}
	h.Delete(a)
	if h.Len() != 0 {
		t.Fatalf("expected empty history after delete")
	}
}

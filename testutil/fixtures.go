package testutil

import "unitofwork/pkg/domain"

// Fixture classes describing a small organisation aggregate with a separate
// account aggregate referenced from it.
var (
	Account = domain.MustClass("Account",
		domain.Value("email", domain.TypeString),
	)
	Organization = domain.MustClass("Organization",
		domain.Value("name", domain.TypeString),
		domain.Value("founded", domain.TypeInt),
		domain.Reference("owner", "Account"),
		domain.ReferenceList("partners", "Account"),
		domain.Children("teams", "Team"),
	)
	Team = domain.MustClass("Team",
		domain.Parent("organization", "Organization"),
		domain.Value("name", domain.TypeString),
		domain.Children("members", "Member"),
	)
	Member = domain.MustClass("Member",
		domain.Parent("team", "Team"),
		domain.Value("name", domain.TypeString),
		domain.Value("score", domain.TypeFloat),
		domain.Value("admin", domain.TypeBool),
		domain.Reference("account", "Account"),
	)
)

// Classes lists the fixture classes in dependency-friendly order.
func Classes() []*domain.Class {
	return []*domain.Class{Account, Organization, Team, Member}
}

// NewAccount builds an unpersisted account.
func NewAccount(email string) *domain.Object {
	return domain.New(Account).MustSet("email", email)
}

// NewOrganization builds an unpersisted organisation root.
func NewOrganization(name string) *domain.Object {
	return domain.New(Organization).MustSet("name", name)
}

// NewTeam builds a team attached to org.
func NewTeam(org *domain.Object, name string) *domain.Object {
	team := domain.New(Team).MustSet("name", name)
	if err := org.AddChild("teams", team); err != nil {
		panic(err)
	}
	return team
}

// NewMember builds a member attached to team.
func NewMember(team *domain.Object, name string) *domain.Object {
	member := domain.New(Member).MustSet("name", name)
	if err := team.AddChild("members", member); err != nil {
		panic(err)
	}
	return member
}

// Persisted marks obj as already stored under id, for tests that do not go
// through a mapper.
func Persisted(obj *domain.Object, id int64) *domain.Object {
	if err := obj.SetID(id); err != nil {
		panic(err)
	}
	return obj
}

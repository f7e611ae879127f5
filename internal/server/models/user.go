// Package models defines the registry's persisted entities and the pure
// rules attached to them (role capabilities, permission scopes, upload
// status transitions).
package models

import "time"

// Role is a user's portal role. The empty role means not yet approved.
type Role string

const (
	RoleNone           Role = ""
	RoleAdmin          Role = "cidc-admin"
	RoleCIDCBiofxUser  Role = "cidc-biofx-user"
	RoleCIMACBiofxUser Role = "cimac-biofx-user"
	RoleCIMACUser      Role = "cimac-user"
	RoleDeveloper      Role = "developer"
	RoleDevops         Role = "devops"
	RoleNCIBiobankUser Role = "nci-biobank-user"
	RoleNetworkViewer  Role = "network-viewer"
	RolePACTUser       Role = "pact-user"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin: {}, RoleCIDCBiofxUser: {}, RoleCIMACBiofxUser: {}, RoleCIMACUser: {},
	RoleDeveloper: {}, RoleDevops: {}, RoleNCIBiobankUser: {}, RoleNetworkViewer: {}, RolePACTUser: {},
}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Organization is the user's home institution.
type Organization string

const (
	OrgCIDC     Organization = "CIDC"
	OrgDFCI     Organization = "DFCI"
	OrgIcahn    Organization = "ICAHN"
	OrgStanford Organization = "STANFORD"
	OrgAnderson Organization = "ANDERSON"
	OrgNA       Organization = "N/A"
)

type User struct {
	ID           int64
	Email        string
	ContactEmail string
	FirstName    string
	LastName     string
	Organization Organization
	Role         Role
	Disabled     bool
	ApprovalDate *time.Time
	Accessed     time.Time
	CreatedAt    time.Time
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

func (u *User) IsNCIUser() bool { return u.Role == RoleNCIBiobankUser }

// HasDownloadPermissions reports whether the role may ever be granted
// object downloads.
func (u *User) HasDownloadPermissions() bool {
	return u.Role != RoleNetworkViewer && u.Role != RolePACTUser
}

// CanDownload is the effective capability: a downloading role on an
// approved, enabled account.
func (u *User) CanDownload() bool {
	return u.HasDownloadPermissions() && !u.Disabled && u.ApprovalDate != nil
}

// AccessedStale reports whether the last-accessed stamp is more than a day
// old and should be refreshed.
func (u *User) AccessedStale(now time.Time) bool {
	return now.Sub(u.Accessed) > 24*time.Hour
}

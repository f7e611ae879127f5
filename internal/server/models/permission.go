package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
)

// Permission lets GrantedToUser download UploadType files of Trial. At most
// one of the two scopes may be Every.
type Permission struct {
	ID            int64
	GrantedToUser int64
	GrantedByUser int64
	Trial         Scope
	UploadType    Scope
	CreatedAt     time.Time
}

// Validate checks the row-level invariants enforced before any write.
func (p *Permission) Validate() error {
	if p.Trial.IsEvery() && p.UploadType.IsEvery() {
		return common.ErrBothWildcards
	}
	if t, ok := p.UploadType.Value(); ok && !IsKnownUploadType(t) {
		return common.NewValidationError("cannot grant permission on invalid upload type: %s", t)
	}
	return nil
}

// Matches reports whether the permission is relevant to a (trial,
// uploadType) query, where Every on the query side matches anything.
// A cross-upload-type permission never matches clinical_data.
func (p *Permission) Matches(trial, uploadType Scope) bool {
	trialOK := trial.IsEvery() || p.Trial.IsEvery() || p.Trial == trial
	if !trialOK {
		return false
	}
	switch {
	case uploadType.IsEvery():
		return true
	case p.UploadType.IsEvery():
		return !uploadType.Is(common.ClinicalDataUploadType)
	default:
		return p.UploadType == uploadType
	}
}

// Supersedes reports whether o is a narrower row for the same grantee made
// redundant by p. clinical_data rows survive an upload-type wildcard.
func (p *Permission) Supersedes(o *Permission) bool {
	if o.GrantedToUser != p.GrantedToUser || (o.ID != 0 && o.ID == p.ID) {
		return false
	}
	switch {
	case p.Trial.IsEvery():
		return !o.Trial.IsEvery() && !o.UploadType.IsEvery() && o.UploadType == p.UploadType
	case p.UploadType.IsEvery():
		return o.Trial == p.Trial && !o.UploadType.IsEvery() && !o.UploadType.Is(common.ClinicalDataUploadType)
	default:
		return false
	}
}

func (p *Permission) String() string {
	return fmt.Sprintf("permission(user=%d, trial=%s, upload_type=%s)", p.GrantedToUser, p.Trial, p.UploadType)
}

// Grant is a permission joined with its grantee.
type Grant struct {
	Permission *Permission
	Grantee    *User
}

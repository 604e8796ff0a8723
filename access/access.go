// Package access computes the effective permission set of an identity on a
// project. Entity membership is consulted first, then per-project
// delegations; an identity with neither is denied.
package access

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/exef-io/exef/model"
)

// Permissions is the effective capability set of an identity on a project.
type Permissions struct {
	Member         bool             `json:"member"`
	Delegated      bool             `json:"delegated"`
	Role           model.MemberRole `json:"role,omitempty"`
	View           bool             `json:"view"`
	Describe       bool             `json:"describe"`
	Approve        bool             `json:"approve"`
	Export         bool             `json:"export"`
	ManageProjects bool             `json:"manage_projects"`
	InviteMembers  bool             `json:"invite_members"`
}

// Denied reports whether the identity has no access at all.
func (p Permissions) Denied() bool { return !p.View }

// Resolve computes the permissions of an identity on a project. Memberships
// live in the main database; delegations live in the project's entity
// database. The delegation validity window must include now.
func Resolve(main, edb *gorm.DB, identityID string, project *model.Project, now time.Time) (Permissions, error) {
	var member model.EntityMember
	err := main.First(&member, "entity_id = ? AND identity_id = ?", project.EntityID, identityID).Error
	switch {
	case err == nil:
		return fromMembership(edb, identityID, project, member, now)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fromDelegation(edb, identityID, project, now)
	default:
		return Permissions{}, err
	}
}

func fromMembership(edb *gorm.DB, identityID string, project *model.Project, member model.EntityMember, now time.Time) (Permissions, error) {
	p := Permissions{
		Member:         true,
		Role:           member.Role,
		View:           true,
		ManageProjects: member.CanManageProjects,
		InviteMembers:  member.CanInviteMembers,
		Export:         member.CanExport,
	}
	switch member.Role {
	case model.RoleOwner:
		p.Describe = true
		p.Approve = true
		p.Export = true
		p.ManageProjects = true
		p.InviteMembers = true
	case model.RoleAccountant:
		p.Describe = true
		p.Approve = true
	default:
		// Assistants and viewers may still hold a delegation that raises
		// their describe/approve/export capabilities on this project.
		auth, ok, err := activeDelegation(edb, identityID, project.ID, now)
		if err != nil {
			return Permissions{}, err
		}
		if ok {
			p.Describe = p.Describe || auth.CanDescribe
			p.Approve = p.Approve || auth.CanApprove
			p.Export = p.Export || auth.CanExport
		}
	}
	return p, nil
}

func fromDelegation(edb *gorm.DB, identityID string, project *model.Project, now time.Time) (Permissions, error) {
	auth, ok, err := activeDelegation(edb, identityID, project.ID, now)
	if err != nil || !ok {
		return Permissions{}, err
	}
	return Permissions{
		Delegated: true,
		View:      auth.CanView,
		Describe:  auth.CanDescribe,
		Approve:   auth.CanApprove,
		Export:    auth.CanExport,
	}, nil
}

func activeDelegation(edb *gorm.DB, identityID, projectID string, now time.Time) (model.ProjectAuthorization, bool, error) {
	var auth model.ProjectAuthorization
	err := edb.First(&auth, "project_id = ? AND identity_id = ?", projectID, identityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth, false, nil
	}
	if err != nil {
		return auth, false, err
	}
	if auth.ValidFrom.After(now) {
		return auth, false, nil
	}
	if auth.ValidUntil != nil && auth.ValidUntil.Before(now) {
		return auth, false, nil
	}
	return auth, true, nil
}

// IsOwner reports whether the identity holds owner membership in the entity.
// Entity-level operations (storage config, rename, archive) require it.
func IsOwner(main *gorm.DB, identityID, entityID string) (bool, error) {
	var member model.EntityMember
	err := main.First(&member, "entity_id = ? AND identity_id = ?", entityID, identityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.Role == model.RoleOwner, nil
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrganizationListItem is one row of a user's organization list.
type OrganizationListItem struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	Role      string
	CreatedAt time.Time
}

// MemberListItem is one row of an organization's member list, joined
// with the user account it belongs to.
type MemberListItem struct {
	UserID      snowflake.ID
	Email       string
	DisplayName string
	AvatarURL   string
	Role        string
	JoinedAt    time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	// LockOrganization takes a row lock on the organization for the rest
	// of the surrounding transaction, serializing membership mutations on
	// the same organization across concurrent transactions.
	LockOrganization(ctx context.Context, orgID snowflake.ID) error
	UpdateOrganization(ctx context.Context, org Organization) error
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)

	AddMember(ctx context.Context, member OrganizationMember) error
	// EnsureMember adds the membership unless the (org, user) pair already
	// exists; an existing row keeps its role.
	EnsureMember(ctx context.Context, member OrganizationMember) error
	GetMember(ctx context.Context, orgID, userID snowflake.ID) (*OrganizationMember, error)
	ListMembers(ctx context.Context, orgID snowflake.ID) ([]MemberListItem, error)
	CountAdmins(ctx context.Context, orgID snowflake.ID) (int64, error)

	// SetMemberRoleGuarded applies the role change only while at least one
	// other admin remains when demoting. It reports whether a row matched.
	SetMemberRoleGuarded(ctx context.Context, orgID, userID snowflake.ID, role string, updatedAt time.Time) (bool, error)

	CreateInvite(ctx context.Context, invite OrganizationInvite) error
	GetInviteByToken(ctx context.Context, token string) (*OrganizationInvite, error)
	// AcceptInvite marks the invite consumed only if it is still pending.
	// It reports whether this call won the transition.
	AcceptInvite(ctx context.Context, inviteID snowflake.ID, acceptedAt time.Time) (bool, error)
	ListPendingInvites(ctx context.Context, orgID snowflake.ID, now time.Time) ([]OrganizationInvite, error)
}

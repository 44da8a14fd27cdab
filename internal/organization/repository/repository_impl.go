package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgboard/internal/organization/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Create(&org).Error
}

func (r *repository) GetOrganization(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", orgID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// LockOrganization locks the organization row with SELECT ... FOR UPDATE.
// Read-committed stores evaluate the last-admin subquery against their
// statement snapshot, so two demotions of different admins would otherwise
// both pass; the row lock forces the second transaction to wait and
// re-evaluate after the first commits. sqlite allows a single writer at a
// time and rejects the locking clause, so it is skipped there.
func (r *repository) LockOrganization(ctx context.Context, orgID snowflake.ID) error {
	if r.db.Dialector.Name() == "sqlite" {
		return nil
	}
	var org domain.Organization
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", orgID).
		First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrOrganizationNotFound
	}
	return err
}

func (r *repository) UpdateOrganization(ctx context.Context, org domain.Organization) error {
	tx := r.db.WithContext(ctx).Model(&domain.Organization{}).Where("id = ?", org.ID).Updates(map[string]any{
		"name":        org.Name,
		"description": org.Description,
		"logo_url":    org.LogoURL,
		"updated_at":  org.UpdatedAt,
	})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func (r *repository) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug, m.role, o.created_at
		 FROM organizations o
		 JOIN organization_members m ON m.org_id = o.id
		 WHERE m.user_id = ?
		 ORDER BY o.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *repository) AddMember(ctx context.Context, member domain.OrganizationMember) error {
	return r.db.WithContext(ctx).Create(&member).Error
}

// EnsureMember inserts the membership row unless one already exists for
// the (org, user) pair. An existing row keeps its current role.
func (r *repository) EnsureMember(ctx context.Context, member domain.OrganizationMember) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&member).Error
}

func (r *repository) GetMember(ctx context.Context, orgID, userID snowflake.ID) (*domain.OrganizationMember, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) ListMembers(ctx context.Context, orgID snowflake.ID) ([]domain.MemberListItem, error) {
	var items []domain.MemberListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT m.user_id, u.email, u.display_name, u.avatar_url, m.role, m.created_at AS joined_at
		 FROM organization_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.org_id = ?
		 ORDER BY m.created_at ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *repository) CountAdmins(ctx context.Context, orgID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.OrganizationMember{}).
		Where("org_id = ? AND role = ?", orgID, domain.RoleAdmin).
		Count(&count).Error
	return count, err
}

// SetMemberRoleGuarded performs the role change and the last-admin check
// in one statement. Demoting an admin matches only while another admin
// exists. The caller must hold the organization lock so that concurrent
// demotions of different admins cannot each count the other.
func (r *repository) SetMemberRoleGuarded(ctx context.Context, orgID, userID snowflake.ID, role string, updatedAt time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(
		`UPDATE organization_members
		 SET role = ?, updated_at = ?
		 WHERE org_id = ? AND user_id = ?
		   AND (
		     ? = ?
		     OR role <> ?
		     OR (SELECT COUNT(*) FROM organization_members
		         WHERE org_id = ? AND role = ? AND user_id <> ?) > 0
		   )`,
		role, updatedAt,
		orgID, userID,
		role, domain.RoleAdmin,
		domain.RoleAdmin,
		orgID, domain.RoleAdmin, userID,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repository) CreateInvite(ctx context.Context, invite domain.OrganizationInvite) error {
	return r.db.WithContext(ctx).Create(&invite).Error
}

func (r *repository) GetInviteByToken(ctx context.Context, token string) (*domain.OrganizationInvite, error) {
	var invite domain.OrganizationInvite
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

// AcceptInvite flips accepted_at only while it is still null, so exactly
// one of any concurrent redemptions wins.
func (r *repository) AcceptInvite(ctx context.Context, inviteID snowflake.ID, acceptedAt time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&domain.OrganizationInvite{}).
		Where("id = ? AND accepted_at IS NULL", inviteID).
		Update("accepted_at", acceptedAt)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repository) ListPendingInvites(ctx context.Context, orgID snowflake.ID, now time.Time) ([]domain.OrganizationInvite, error) {
	var invites []domain.OrganizationInvite
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND accepted_at IS NULL AND expires_at > ?", orgID, now).
		Order("created_at ASC").
		Find(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

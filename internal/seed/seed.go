// Package seed bootstraps a default organization and admin account so
// a fresh install is usable immediately.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/orgboard/internal/auth/domain"
	"github.com/smallbiznis/orgboard/internal/auth/password"
	orgdomain "github.com/smallbiznis/orgboard/internal/organization/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName      = "Main"
	defaultOrgSlug      = "main"
	defaultAdminEmail   = "admin@orgboard.local"
	defaultAdminPass    = "changeme-admin"
	defaultAdminDisplay = "Orgboard Admin"
)

// EnsureDefaultOrgAndAdmin seeds the default organization and admin
// user. Safe to run on every startup.
func EnsureDefaultOrgAndAdmin(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureDefaultOrg(ctx, tx, node)
		if err != nil {
			return err
		}

		user, err := ensureAdminUser(ctx, tx, node)
		if err != nil {
			return err
		}

		return ensureAdminMembership(ctx, tx, node, org.ID, user.ID)
	})
}

func ensureDefaultOrg(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	org = orgdomain.Organization{
		ID:        node.Generate(),
		Name:      defaultOrgName,
		Slug:      defaultOrgSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func ensureAdminUser(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*authdomain.User, error) {
	var user authdomain.User
	err := tx.WithContext(ctx).Where("email = ?", defaultAdminEmail).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := password.Hash(defaultAdminPass)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user = authdomain.User{
		ID:           node.Generate(),
		Email:        defaultAdminEmail,
		PasswordHash: &hashed,
		DisplayName:  defaultAdminDisplay,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func ensureAdminMembership(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID, userID snowflake.ID) error {
	var member orgdomain.OrganizationMember
	err := tx.WithContext(ctx).Where("org_id = ? AND user_id = ?", orgID, userID).First(&member).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	member = orgdomain.OrganizationMember{
		ID:        node.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      orgdomain.RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.WithContext(ctx).Create(&member).Error
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgboard/internal/organization/domain"
	"github.com/smallbiznis/orgboard/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepoTest(t *testing.T) (domain.Repository, *snowflake.Node) {
	t.Helper()

	gdb, err := db.NewTest()
	require.NoError(t, err)

	err = gdb.AutoMigrate(
		&domain.Organization{},
		&domain.OrganizationMember{},
		&domain.OrganizationInvite{},
	)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewRepository(gdb), node
}

func seedOrgWithMembers(t *testing.T, repo domain.Repository, node *snowflake.Node, roles ...string) (snowflake.ID, []snowflake.ID) {
	t.Helper()

	ctx := context.Background()
	orgID := node.Generate()
	err := repo.CreateOrganization(ctx, domain.Organization{
		ID:   orgID,
		Name: "Acme",
		Slug: "acme-" + orgID.String(),
	})
	require.NoError(t, err)

	userIDs := make([]snowflake.ID, 0, len(roles))
	for _, role := range roles {
		userID := node.Generate()
		err := repo.AddMember(ctx, domain.OrganizationMember{
			ID:     node.Generate(),
			OrgID:  orgID,
			UserID: userID,
			Role:   role,
		})
		require.NoError(t, err)
		userIDs = append(userIDs, userID)
	}
	return orgID, userIDs
}

func TestSetMemberRoleGuardedBlocksLastAdminDemotion(t *testing.T) {
	repo, node := setupRepoTest(t)
	ctx := context.Background()

	orgID, users := seedOrgWithMembers(t, repo, node, domain.RoleAdmin, domain.RoleMember)

	ok, err := repo.SetMemberRoleGuarded(ctx, orgID, users[0], domain.RoleMember, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok, "sole admin demotion must not match any row")

	member, err := repo.GetMember(ctx, orgID, users[0])
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, member.Role)
}

func TestSetMemberRoleGuardedAllowsDemotionWithSecondAdmin(t *testing.T) {
	repo, node := setupRepoTest(t)
	ctx := context.Background()

	orgID, users := seedOrgWithMembers(t, repo, node, domain.RoleAdmin, domain.RoleAdmin)

	ok, err := repo.SetMemberRoleGuarded(ctx, orgID, users[0], domain.RoleMember, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := repo.CountAdmins(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSetMemberRoleGuardedPromotionAlwaysMatches(t *testing.T) {
	repo, node := setupRepoTest(t)
	ctx := context.Background()

	orgID, users := seedOrgWithMembers(t, repo, node, domain.RoleAdmin, domain.RoleMember)

	ok, err := repo.SetMemberRoleGuarded(ctx, orgID, users[1], domain.RoleAdmin, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := repo.CountAdmins(ctx, orgID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestAcceptInviteSingleTransition(t *testing.T) {
	repo, node := setupRepoTest(t)
	ctx := context.Background()

	orgID, users := seedOrgWithMembers(t, repo, node, domain.RoleAdmin)

	now := time.Now().UTC()
	inviteID := node.Generate()
	err := repo.CreateInvite(ctx, domain.OrganizationInvite{
		ID:        inviteID,
		OrgID:     orgID,
		Email:     "b@x.com",
		Role:      domain.RoleMember,
		Token:     "tok-" + inviteID.String(),
		InvitedBy: users[0],
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)

	ok, err := repo.AcceptInvite(ctx, inviteID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AcceptInvite(ctx, inviteID, now)
	require.NoError(t, err)
	assert.False(t, ok, "second acceptance must lose the transition")
}

func TestEnsureMemberKeepsExistingRole(t *testing.T) {
	repo, node := setupRepoTest(t)
	ctx := context.Background()

	orgID, users := seedOrgWithMembers(t, repo, node, domain.RoleAdmin)

	err := repo.EnsureMember(ctx, domain.OrganizationMember{
		ID:     node.Generate(),
		OrgID:  orgID,
		UserID: users[0],
		Role:   domain.RoleMember,
	})
	require.NoError(t, err)

	member, err := repo.GetMember(ctx, orgID, users[0])
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, member.Role)
}

func TestListPendingInvitesFiltersUsedAndExpired(t *testing.T) {
	repo, node := setupRepoTest(t)
	ctx := context.Background()

	orgID, users := seedOrgWithMembers(t, repo, node, domain.RoleAdmin)
	now := time.Now().UTC()

	mkInvite := func(expiresAt time.Time, accepted bool) {
		id := node.Generate()
		invite := domain.OrganizationInvite{
			ID:        id,
			OrgID:     orgID,
			Email:     "c@x.com",
			Role:      domain.RoleMember,
			Token:     "tok-" + id.String(),
			InvitedBy: users[0],
			ExpiresAt: expiresAt,
		}
		if accepted {
			acceptedAt := now.Add(-time.Hour)
			invite.AcceptedAt = &acceptedAt
		}
		require.NoError(t, repo.CreateInvite(ctx, invite))
	}

	mkInvite(now.Add(time.Hour), false)
	mkInvite(now.Add(-time.Hour), false)
	mkInvite(now.Add(time.Hour), true)

	pending, err := repo.ListPendingInvites(ctx, orgID, now)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

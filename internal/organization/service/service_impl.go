package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/orgboard/internal/clock"
	"github.com/smallbiznis/orgboard/internal/config"
	"github.com/smallbiznis/orgboard/internal/observability/metrics"
	"github.com/smallbiznis/orgboard/internal/organization/domain"
	"github.com/smallbiznis/orgboard/internal/organization/event"
	"github.com/smallbiznis/orgboard/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	inviteTokenBytes = 32

	maxTokenAttempts = 3
)

type service struct {
	db        *gorm.DB
	cfg       config.Config
	repo      domain.Repository
	genID     *snowflake.Node
	clock     clock.Clock
	publisher event.EventPublisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewService(
	gdb *gorm.DB,
	cfg config.Config,
	repo domain.Repository,
	genID *snowflake.Node,
	clk clock.Clock,
	publisher event.EventPublisher,
	m *metrics.Metrics,
	log *zap.Logger,
) domain.Service {
	return &service{
		db:        gdb,
		cfg:       cfg,
		repo:      repo,
		genID:     genID,
		clock:     clk,
		publisher: publisher,
		metrics:   m,
		log:       log.Named("organization.service"),
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	orgID := s.genID.Generate()
	orgSlug, err := s.uniqueSlug(ctx, name, orgID)
	if err != nil {
		return nil, err
	}
	org := domain.Organization{
		ID:          orgID,
		Name:        name,
		Slug:        orgSlug,
		Description: strings.TrimSpace(req.Description),
		LogoURL:     strings.TrimSpace(req.LogoURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      domain.RoleAdmin,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.AddMember(ctx, member); err != nil {
			return err
		}

		return s.emit(ctx, tx, orgID, event.OrganizationCreatedTopic, map[string]string{
			"organization_id": orgID.String(),
			"creator_user_id": userID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	return organizationResponse(&org), nil
}

func (s *service) Get(ctx context.Context, userID snowflake.ID, orgID string) (*domain.OrganizationResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if _, err := s.requireMember(ctx, id, userID); err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}

	return organizationResponse(org), nil
}

func (s *service) Update(ctx context.Context, userID snowflake.ID, orgID string, req domain.UpdateOrganizationRequest) (*domain.OrganizationResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if _, err := s.requireAdmin(ctx, id, userID); err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		org.Name = name
	}
	if req.Description != nil {
		org.Description = strings.TrimSpace(*req.Description)
	}
	if req.LogoURL != nil {
		org.LogoURL = strings.TrimSpace(*req.LogoURL)
	}
	org.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.UpdateOrganization(ctx, *org); err != nil {
		return nil, err
	}

	return organizationResponse(org), nil
}

func (s *service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Slug:      item.Slug,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

func (s *service) ListMembers(ctx context.Context, userID snowflake.ID, orgID string) ([]domain.MemberResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if _, err := s.requireMember(ctx, id, userID); err != nil {
		return nil, err
	}

	items, err := s.repo.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.MemberResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, memberResponse(item))
	}
	return resp, nil
}

func (s *service) SetMemberRole(ctx context.Context, actorID snowflake.ID, orgID string, targetUserID string, role string) (*domain.MemberResponse, error) {
	// Input checks come before authorization, authorization before the
	// target lookup.
	if !domain.ValidRole(role) {
		return nil, domain.ErrInvalidRole
	}
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if _, err := s.requireAdmin(ctx, id, actorID); err != nil {
		return nil, err
	}

	targetID, err := snowflake.ParseString(strings.TrimSpace(targetUserID))
	if err != nil {
		return nil, domain.ErrMemberNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if err := repo.LockOrganization(ctx, id); err != nil {
			return err
		}
		if _, err := repo.GetMember(ctx, id, targetID); err != nil {
			return err
		}

		ok, err := repo.SetMemberRoleGuarded(ctx, id, targetID, role, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			// Member exists, so the only unmet condition is the demotion
			// guard: no other admin remains.
			return domain.ErrLastAdmin
		}

		return s.emit(ctx, tx, id, event.MemberRoleChangedTopic, map[string]string{
			"organization_id": id.String(),
			"actor_user_id":   actorID.String(),
			"target_user_id":  targetID.String(),
			"role":            role,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRoleChange(ctx, id.String(), role)

	member, err := s.repo.GetMember(ctx, id, targetID)
	if err != nil {
		return nil, err
	}
	resp := domain.MemberResponse{
		UserID:   member.UserID.String(),
		Role:     member.Role,
		JoinedAt: member.CreatedAt,
	}
	return &resp, nil
}

func (s *service) CreateInvite(ctx context.Context, actorID snowflake.ID, orgID string, req domain.InviteRequest) (*domain.InviteResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if _, err := s.requireAdmin(ctx, id, actorID); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if !domain.ValidRole(req.Role) {
		return nil, domain.ErrInvalidRole
	}

	now := s.clock.Now().UTC()
	invite := domain.OrganizationInvite{
		ID:        s.genID.Generate(),
		OrgID:     id,
		Email:     email,
		Role:      req.Role,
		InvitedBy: actorID,
		ExpiresAt: now.Add(s.cfg.InviteTTL),
		CreatedAt: now,
	}

	// Each attempt runs in its own transaction: a token collision aborts
	// the whole attempt, so the retry starts from a clean handle.
	for attempt := 0; ; attempt++ {
		token, err := newInviteToken()
		if err != nil {
			return nil, err
		}
		invite.Token = token

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).CreateInvite(ctx, invite); err != nil {
				return err
			}
			return s.emit(ctx, tx, id, event.InviteIssuedTopic, map[string]string{
				"organization_id": id.String(),
				"invite_id":       invite.ID.String(),
				"email":           email,
				"role":            invite.Role,
			})
		})
		if err == nil {
			break
		}
		if !db.IsDuplicateKeyErr(err) || attempt >= maxTokenAttempts {
			return nil, err
		}
	}

	s.metrics.RecordInviteIssued(ctx, id.String(), invite.Role)

	resp := inviteResponse(invite)
	resp.JoinURL = s.cfg.JoinURL(invite.Token)
	return &resp, nil
}

func (s *service) ListPendingInvites(ctx context.Context, actorID snowflake.ID, orgID string) ([]domain.InviteResponse, error) {
	id, err := parseOrgID(orgID)
	if err != nil {
		return nil, err
	}

	if _, err := s.requireAdmin(ctx, id, actorID); err != nil {
		return nil, err
	}

	invites, err := s.repo.ListPendingInvites(ctx, id, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	resp := make([]domain.InviteResponse, 0, len(invites))
	for _, invite := range invites {
		resp = append(resp, inviteResponse(invite))
	}
	return resp, nil
}

func (s *service) RedeemInvite(ctx context.Context, userID snowflake.ID, userEmail string, token string) (*domain.RedeemResult, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInviteNotFound
	}

	var result domain.RedeemResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		invite, err := repo.GetInviteByToken(ctx, token)
		if err != nil {
			return err
		}
		if invite.AcceptedAt != nil {
			return domain.ErrInviteAlreadyUsed
		}
		now := s.clock.Now().UTC()
		if !now.Before(invite.ExpiresAt) {
			return domain.ErrInviteExpired
		}
		if !strings.EqualFold(strings.TrimSpace(userEmail), invite.Email) {
			return domain.ErrEmailMismatch
		}

		ok, err := repo.AcceptInvite(ctx, invite.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent redemption won the transition.
			return domain.ErrInviteAlreadyUsed
		}

		member := domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     invite.OrgID,
			UserID:    userID,
			Role:      invite.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.EnsureMember(ctx, member); err != nil {
			return err
		}

		org, err := repo.GetOrganization(ctx, invite.OrgID)
		if err != nil {
			return err
		}
		joined, err := repo.GetMember(ctx, invite.OrgID, userID)
		if err != nil {
			return err
		}

		result = domain.RedeemResult{
			OrgID:   org.ID.String(),
			OrgName: org.Name,
			Slug:    org.Slug,
			Role:    joined.Role,
		}

		return s.emit(ctx, tx, invite.OrgID, event.InviteRedeemedTopic, map[string]string{
			"organization_id": result.OrgID,
			"user_id":         userID.String(),
			"role":            joined.Role,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInviteRedeemed(ctx, result.OrgID, "accepted")

	return &result, nil
}

func (s *service) requireMember(ctx context.Context, orgID, userID snowflake.ID) (*domain.OrganizationMember, error) {
	if userID == 0 {
		return nil, domain.ErrForbidden
	}
	member, err := s.repo.GetMember(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}
	return member, nil
}

func (s *service) requireAdmin(ctx context.Context, orgID, userID snowflake.ID) (*domain.OrganizationMember, error) {
	member, err := s.requireMember(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if member.Role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	return member, nil
}

// emit appends an outbox event through the transaction handle, so the
// event commits or rolls back with the mutation that produced it.
func (s *service) emit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, topic string, payload map[string]string) error {
	if s.publisher == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("topic", topic), zap.Error(err))
		return nil
	}

	return s.publisher.WithTx(tx).Publish(ctx, orgID, topic, data)
}

func (s *service) uniqueSlug(ctx context.Context, name string, orgID snowflake.ID) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "org"
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("slug = ?", base).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	if count == 0 {
		return base, nil
	}

	id := orgID.String()
	return base + "-" + id[len(id)-4:], nil
}

func parseOrgID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, domain.ErrInvalidOrganization
	}
	return id, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func organizationResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:          org.ID.String(),
		Name:        org.Name,
		Slug:        org.Slug,
		Description: org.Description,
		LogoURL:     org.LogoURL,
		CreatedAt:   org.CreatedAt,
	}
}

func memberResponse(item domain.MemberListItem) domain.MemberResponse {
	return domain.MemberResponse{
		UserID:      item.UserID.String(),
		Email:       item.Email,
		DisplayName: item.DisplayName,
		AvatarURL:   item.AvatarURL,
		Role:        item.Role,
		JoinedAt:    item.JoinedAt,
	}
}

func inviteResponse(invite domain.OrganizationInvite) domain.InviteResponse {
	return domain.InviteResponse{
		ID:        invite.ID.String(),
		Email:     invite.Email,
		Role:      invite.Role,
		InvitedBy: invite.InvitedBy.String(),
		ExpiresAt: invite.ExpiresAt,
		CreatedAt: invite.CreatedAt,
	}
}

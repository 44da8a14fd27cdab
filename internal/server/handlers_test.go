package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orgboard/internal/auth/session"
	"github.com/smallbiznis/orgboard/internal/config"
	orgdomain "github.com/smallbiznis/orgboard/internal/organization/domain"
)

type fakeOrgService struct {
	err error

	org    *orgdomain.OrganizationResponse
	member *orgdomain.MemberResponse
	invite *orgdomain.InviteResponse
	redeem *orgdomain.RedeemResult

	setRoleCalls int
	lastRole     string
	redeemCalls  int
	lastToken    string
}

func (f *fakeOrgService) Create(ctx context.Context, userID snowflake.ID, req orgdomain.CreateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.org, nil
}

func (f *fakeOrgService) Get(ctx context.Context, userID snowflake.ID, orgID string) (*orgdomain.OrganizationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.org, nil
}

func (f *fakeOrgService) Update(ctx context.Context, userID snowflake.ID, orgID string, req orgdomain.UpdateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.org, nil
}

func (f *fakeOrgService) ListByUser(ctx context.Context, userID snowflake.ID) ([]orgdomain.OrganizationListResponseItem, error) {
	return nil, f.err
}

func (f *fakeOrgService) ListMembers(ctx context.Context, userID snowflake.ID, orgID string) ([]orgdomain.MemberResponse, error) {
	return nil, f.err
}

func (f *fakeOrgService) SetMemberRole(ctx context.Context, actorID snowflake.ID, orgID string, targetUserID string, role string) (*orgdomain.MemberResponse, error) {
	f.setRoleCalls++
	f.lastRole = role
	if f.err != nil {
		return nil, f.err
	}
	return f.member, nil
}

func (f *fakeOrgService) CreateInvite(ctx context.Context, actorID snowflake.ID, orgID string, req orgdomain.InviteRequest) (*orgdomain.InviteResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.invite, nil
}

func (f *fakeOrgService) ListPendingInvites(ctx context.Context, actorID snowflake.ID, orgID string) ([]orgdomain.InviteResponse, error) {
	return nil, f.err
}

func (f *fakeOrgService) RedeemInvite(ctx context.Context, userID snowflake.ID, userEmail string, token string) (*orgdomain.RedeemResult, error) {
	f.redeemCalls++
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return f.redeem, nil
}

func withUser(id snowflake.ID, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextUserIDKey, id)
		c.Set(contextUserEmailKey, email)
		c.Next()
	}
}

func newTestRouter(srv *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.Use(withUser(snowflake.ID(200), "b@x.com"))
	return router
}

func TestRedeemInviteStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"already used", orgdomain.ErrInviteAlreadyUsed, http.StatusConflict, "invite_already_used"},
		{"expired", orgdomain.ErrInviteExpired, http.StatusGone, "invite_expired"},
		{"email mismatch", orgdomain.ErrEmailMismatch, http.StatusForbidden, "invite_email_mismatch"},
		{"unknown token", orgdomain.ErrInviteNotFound, http.StatusNotFound, "not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orgSvc := &fakeOrgService{err: tc.err}
			srv := &Server{organizationSvc: orgSvc}

			router := newTestRouter(srv)
			router.POST("/api/join/:token", srv.RedeemInvite)

			req := httptest.NewRequest(http.MethodPost, "/api/join/tok123", nil)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}

			var body errorResponse
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error.Type != tc.typ {
				t.Fatalf("expected error type %s, got %s", tc.typ, body.Error.Type)
			}
			if orgSvc.lastToken != "tok123" {
				t.Fatalf("expected token tok123, got %s", orgSvc.lastToken)
			}
		})
	}
}

func TestRedeemInviteSuccess(t *testing.T) {
	orgSvc := &fakeOrgService{
		redeem: &orgdomain.RedeemResult{
			OrgID:   "100",
			OrgName: "Acme",
			Slug:    "acme",
			Role:    orgdomain.RoleMember,
		},
	}
	srv := &Server{organizationSvc: orgSvc}

	router := newTestRouter(srv)
	router.POST("/api/join/:token", srv.RedeemInvite)

	req := httptest.NewRequest(http.MethodPost, "/api/join/tok123", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var body orgdomain.RedeemResult
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Role != orgdomain.RoleMember {
		t.Fatalf("expected member role, got %s", body.Role)
	}
}

func TestSetMemberRoleLastAdminConflict(t *testing.T) {
	orgSvc := &fakeOrgService{err: orgdomain.ErrLastAdmin}
	srv := &Server{organizationSvc: orgSvc}

	router := newTestRouter(srv)
	router.PUT("/api/orgs/:id/members", srv.SetMemberRole)

	payload := `{"user_id":"200","role":"member"}`
	req := httptest.NewRequest(http.MethodPut, "/api/orgs/100/members", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error.Type != "last_admin" {
		t.Fatalf("expected error type last_admin, got %s", body.Error.Type)
	}
}

func TestSetMemberRoleForbidden(t *testing.T) {
	orgSvc := &fakeOrgService{err: orgdomain.ErrForbidden}
	srv := &Server{organizationSvc: orgSvc}

	router := newTestRouter(srv)
	router.PUT("/api/orgs/:id/members", srv.SetMemberRole)

	payload := `{"user_id":"200","role":"admin"}`
	req := httptest.NewRequest(http.MethodPut, "/api/orgs/100/members", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestSetMemberRoleInvalidRequest(t *testing.T) {
	orgSvc := &fakeOrgService{}
	srv := &Server{organizationSvc: orgSvc}

	router := newTestRouter(srv)
	router.PUT("/api/orgs/:id/members", srv.SetMemberRole)

	req := httptest.NewRequest(http.MethodPut, "/api/orgs/100/members", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if orgSvc.setRoleCalls != 0 {
		t.Fatal("expected service not to be called")
	}
}

func TestCreateInviteCreated(t *testing.T) {
	orgSvc := &fakeOrgService{
		invite: &orgdomain.InviteResponse{
			ID:      "300",
			Email:   "b@x.com",
			Role:    orgdomain.RoleMember,
			JoinURL: "http://localhost:3000/join/tok123",
		},
	}
	srv := &Server{organizationSvc: orgSvc}

	router := newTestRouter(srv)
	router.POST("/api/invites", srv.CreateInvite)

	payload := `{"org_id":"100","email":"b@x.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/invites", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	var body orgdomain.InviteResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.JoinURL == "" {
		t.Fatal("expected join url in response")
	}
}

func TestCreateInviteInvalidRole(t *testing.T) {
	orgSvc := &fakeOrgService{err: orgdomain.ErrInvalidRole}
	srv := &Server{organizationSvc: orgSvc}

	router := newTestRouter(srv)
	router.POST("/api/invites", srv.CreateInvite)

	payload := `{"org_id":"100","email":"b@x.com","role":"owner"}`
	req := httptest.NewRequest(http.MethodPost, "/api/invites", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestWebAuthRequiredWithoutCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{
		sessions: session.NewManager(config.Config{}),
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/api/orgs/:id", srv.WebAuthRequired(), srv.GetOrganization)

	req := httptest.NewRequest(http.MethodGet, "/api/orgs/100", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

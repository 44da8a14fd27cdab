package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orgboard/internal/auth"
	authdomain "github.com/smallbiznis/orgboard/internal/auth/domain"
	"github.com/smallbiznis/orgboard/internal/auth/session"
	"github.com/smallbiznis/orgboard/internal/clock"
	"github.com/smallbiznis/orgboard/internal/config"
	"github.com/smallbiznis/orgboard/internal/migration"
	"github.com/smallbiznis/orgboard/internal/observability"
	obslogger "github.com/smallbiznis/orgboard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orgboard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orgboard/internal/observability/tracing"
	"github.com/smallbiznis/orgboard/internal/organization"
	organizationdomain "github.com/smallbiznis/orgboard/internal/organization/domain"
	"github.com/smallbiznis/orgboard/internal/ratelimit"
	"github.com/smallbiznis/orgboard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	db.Module,
	clock.Module,
	observability.Module,
	auth.Module,
	session.Module,
	organization.Module,
	ratelimit.Module,
	migration.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	authsvc         authdomain.Service
	sessions        *session.Manager
	genID           *snowflake.Node
	organizationSvc organizationdomain.Service
	inviteLimiter   *ratelimit.InviteLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Authsvc         authdomain.Service
	Sessions        *session.Manager
	GenID           *snowflake.Node
	OrganizationSvc organizationdomain.Service
	InviteLimiter   *ratelimit.InviteLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		authsvc:         p.Authsvc,
		sessions:        p.Sessions,
		genID:           p.GenID,
		organizationSvc: p.OrganizationSvc,
		inviteLimiter:   p.InviteLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.WebAuthRequired(), s.Me)
	auth.PATCH("/me", s.WebAuthRequired(), s.UpdateProfile)
	auth.POST("/change-password", s.WebAuthRequired(), s.ChangePassword)

	user := auth.Group("/user", s.WebAuthRequired())
	{
		user.GET("/orgs", s.ListUserOrgs)
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.WebAuthRequired())

	api.POST("/orgs", s.CreateOrganization)
	api.GET("/orgs/:id", s.GetOrganization)
	api.PATCH("/orgs/:id", s.UpdateOrganization)

	api.GET("/orgs/:id/members", s.ListMembers)
	api.PUT("/orgs/:id/members", s.SetMemberRole)

	api.GET("/orgs/:id/invites", s.ListPendingInvites)
	api.POST("/invites", s.InviteRateLimit(), s.CreateInvite)
	api.POST("/join/:token", s.RedeemInvite)
}

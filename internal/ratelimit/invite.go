package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orgboard/internal/config"
)

const (
	keyInviteOrg   = "invite:issue:org:%s"
	keyInviteActor = "invite:issue:actor:%s"
)

// InviteLimiter throttles invite issuance per organization and per
// issuing admin. A nil or disabled limiter allows everything.
type InviteLimiter struct {
	enabled bool

	bucket *TokenBucket

	orgRate    float64
	orgBurst   int
	actorRate  float64
	actorBurst int
}

func NewInviteLimiter(cfg config.Config) (*InviteLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.InviteOrgRate <= 0 || limitCfg.InviteOrgBurst <= 0 {
		return nil, errors.New("invite org rate limit must be positive")
	}
	if limitCfg.InviteActorRate <= 0 || limitCfg.InviteActorBurst <= 0 {
		return nil, errors.New("invite actor rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &InviteLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		orgRate:    limitCfg.InviteOrgRate,
		orgBurst:   limitCfg.InviteOrgBurst,
		actorRate:  limitCfg.InviteActorRate,
		actorBurst: limitCfg.InviteActorBurst,
	}, nil
}

func (l *InviteLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *InviteLimiter) AllowOrg(ctx context.Context, orgID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyInviteOrg, strings.TrimSpace(orgID)), l.orgRate, l.orgBurst)
}

func (l *InviteLimiter) AllowActor(ctx context.Context, actorID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyInviteActor, strings.TrimSpace(actorID)), l.actorRate, l.actorBurst)
}

package migration

import (
	authdomain "github.com/smallbiznis/orgboard/internal/auth/domain"
	"github.com/smallbiznis/orgboard/internal/config"
	orgdomain "github.com/smallbiznis/orgboard/internal/organization/domain"
	"github.com/smallbiznis/orgboard/internal/organization/event"
	"github.com/smallbiznis/orgboard/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql setups rely on the model definitions.
			if err := conn.AutoMigrate(
				&authdomain.User{},
				&authdomain.Session{},
				&orgdomain.Organization{},
				&orgdomain.OrganizationMember{},
				&orgdomain.OrganizationInvite{},
				&event.OrgEvent{},
			); err != nil {
				return err
			}
		}

		if cfg.BootstrapDefaultOrg {
			return seed.EnsureDefaultOrgAndAdmin(conn)
		}
		return nil
	}),
)

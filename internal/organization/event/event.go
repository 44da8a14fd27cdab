package event

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OrganizationCreatedTopic = "organization.created"
	MemberRoleChangedTopic   = "member.role_changed"
	InviteIssuedTopic        = "invite.issued"
	InviteRedeemedTopic      = "invite.redeemed"
)

type EventPublisher interface {
	// WithTx rebinds the publisher to a transaction handle so the outbox
	// row commits or rolls back with the state change that produced it.
	WithTx(tx *gorm.DB) EventPublisher
	Publish(ctx context.Context, orgID snowflake.ID, topic string, payload []byte) error
}

// outboxPublisher appends events to the org_events outbox table inside
// the caller's transaction scope so they commit with the state change.
type outboxPublisher struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutboxPublisher(db *gorm.DB, genID *snowflake.Node) EventPublisher {
	return &outboxPublisher{
		db:    db,
		genID: genID,
	}
}

func (p *outboxPublisher) WithTx(tx *gorm.DB) EventPublisher {
	return &outboxPublisher{
		db:    tx,
		genID: p.genID,
	}
}

func (p *outboxPublisher) Publish(ctx context.Context, orgID snowflake.ID, topic string, payload []byte) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Exec(
		`INSERT INTO org_events (id, org_id, event_type, payload, published, created_at)
		 VALUES (?, ?, ?, ?, false, ?)`,
		p.genID.Generate(),
		orgID,
		topic,
		datatypes.JSON(payload),
		now,
	).Error
}

// OrgEvent is the persisted outbox row.
type OrgEvent struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	OrgID     snowflake.ID   `gorm:"column:org_id;not null;index"`
	EventType string         `gorm:"column:event_type;type:text;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Published bool           `gorm:"column:published;not null;default:false"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgEvent) TableName() string { return "org_events" }

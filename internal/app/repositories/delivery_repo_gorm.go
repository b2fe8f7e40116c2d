package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/faeln1/membersync/internal/domain/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type deliveryRecord struct {
	ID             string  `gorm:"column:id;primaryKey"`
	DeliveryID     *string `gorm:"column:delivery_id"`
	EventKind      string  `gorm:"column:event_kind"`
	TenantID       string  `gorm:"column:tenant_id"`
	MemberID       string  `gorm:"column:member_id"`
	MembershipID   string  `gorm:"column:membership_id"`
	Outcome        string  `gorm:"column:outcome"`
	Error          string  `gorm:"column:error"`
	PayloadSHA256  string  `gorm:"column:payload_sha256"`
	SignatureValid bool    `gorm:"column:signature_valid"`
	Attempts       int     `gorm:"column:attempts"`
	ReceivedAt     time.Time
	UpdatedAt      time.Time
}

func (deliveryRecord) TableName() string { return "webhook_deliveries" }

func (r deliveryRecord) toDomain() webhook.Delivery {
	d := webhook.Delivery{
		ID:             r.ID,
		EventKind:      r.EventKind,
		TenantID:       r.TenantID,
		MemberID:       r.MemberID,
		MembershipID:   r.MembershipID,
		Outcome:        r.Outcome,
		Error:          r.Error,
		PayloadSHA256:  r.PayloadSHA256,
		SignatureValid: r.SignatureValid,
		Attempts:       r.Attempts,
		ReceivedAt:     r.ReceivedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.DeliveryID != nil {
		d.DeliveryID = *r.DeliveryID
	}
	return d
}

type gormDeliveryRepo struct {
	db *gorm.DB
}

// NewGormDeliveryRepo builds a DeliveryRepository on the webhook_deliveries table.
func NewGormDeliveryRepo(db *gorm.DB) DeliveryRepository {
	return &gormDeliveryRepo{db: db}
}

func (r *gormDeliveryRepo) Record(ctx context.Context, d *webhook.Delivery) error {
	if d.Attempts == 0 {
		d.Attempts = 1
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.ReceivedAt
	}
	rec := deliveryRecord{
		ID:             d.ID,
		EventKind:      d.EventKind,
		TenantID:       d.TenantID,
		MemberID:       d.MemberID,
		MembershipID:   d.MembershipID,
		Outcome:        d.Outcome,
		Error:          d.Error,
		PayloadSHA256:  d.PayloadSHA256,
		SignatureValid: d.SignatureValid,
		Attempts:       d.Attempts,
		ReceivedAt:     d.ReceivedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.DeliveryID != "" {
		id := d.DeliveryID
		rec.DeliveryID = &id
	}

	db := r.db.WithContext(ctx)
	if rec.DeliveryID != nil {
		db = db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "delivery_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempts":        gorm.Expr("webhook_deliveries.attempts + 1"),
				"event_kind":      rec.EventKind,
				"tenant_id":       rec.TenantID,
				"member_id":       rec.MemberID,
				"membership_id":   rec.MembershipID,
				"outcome":         rec.Outcome,
				"error":           rec.Error,
				"payload_sha256":  rec.PayloadSHA256,
				"signature_valid": rec.SignatureValid,
				"updated_at":      rec.UpdatedAt,
			}),
		})
	}
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

func (r *gormDeliveryRepo) List(ctx context.Context, filter webhook.DeliveryFilter) ([]webhook.Delivery, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	q := r.db.WithContext(ctx).Order("received_at DESC").Limit(limit)
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	var recs []deliveryRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]webhook.Delivery, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

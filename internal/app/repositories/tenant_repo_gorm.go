package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faeln1/membersync/internal/domain/tenant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tenantRecord struct {
	TenantID     string  `gorm:"column:tenant_id;primaryKey"`
	DisplayName  string  `gorm:"column:display_name"`
	Slug         *string `gorm:"column:slug"`
	Status       string  `gorm:"column:status"`
	InstalledAt  time.Time
	LastActivity time.Time
}

func (tenantRecord) TableName() string { return "tenants" }

func (r tenantRecord) toDomain() *tenant.Tenant {
	t := &tenant.Tenant{
		ID:           r.TenantID,
		DisplayName:  r.DisplayName,
		Status:       tenant.Status(r.Status),
		InstalledAt:  r.InstalledAt.UTC(),
		LastActivity: r.LastActivity.UTC(),
	}
	if r.Slug != nil {
		t.Slug = *r.Slug
	}
	return t
}

type gormTenantRepo struct {
	db *gorm.DB
}

// NewGormTenantRepo builds a TenantRepository on the migrated tenants table.
func NewGormTenantRepo(db *gorm.DB) TenantRepository {
	return &gormTenantRepo{db: db}
}

func (r *gormTenantRepo) Touch(ctx context.Context, in tenant.TouchInput) error {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return errors.New("tenant id is required")
	}
	at := in.At.UTC()
	rec := tenantRecord{
		TenantID:     id,
		DisplayName:  in.DisplayName,
		Status:       string(tenant.StatusActive),
		InstalledAt:  at,
		LastActivity: at,
	}
	if in.Slug != "" {
		slug := in.Slug
		rec.Slug = &slug
	}

	updates := map[string]any{
		"last_activity": at,
		"status":        string(tenant.StatusActive),
	}
	if in.DisplayName != "" {
		updates["display_name"] = in.DisplayName
	}
	if in.Slug != "" {
		updates["slug"] = in.Slug
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("touch tenant %s: %w", id, err)
	}
	return nil
}

func (r *gormTenantRepo) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	var rec tenantRecord
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", id).First(&rec).Error; err != nil {
		return nil, r.mapError(err)
	}
	return rec.toDomain(), nil
}

func (r *gormTenantRepo) FindBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	var rec tenantRecord
	err := r.db.WithContext(ctx).
		Where("LOWER(slug) = ?", strings.ToLower(strings.TrimSpace(slug))).
		Order("last_activity DESC").
		First(&rec).Error
	if err != nil {
		return nil, r.mapError(err)
	}
	return rec.toDomain(), nil
}

func (r *gormTenantRepo) MostRecentlyActive(ctx context.Context) (*tenant.Tenant, error) {
	var rec tenantRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", string(tenant.StatusActive)).
		Order("last_activity DESC").
		First(&rec).Error
	if err != nil {
		return nil, r.mapError(err)
	}
	return rec.toDomain(), nil
}

func (r *gormTenantRepo) SetStatus(ctx context.Context, id string, status tenant.Status, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&tenantRecord{}).
		Where("tenant_id = ?", id).
		Updates(map[string]any{"status": string(status), "last_activity": at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (r *gormTenantRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *gormTenantRepo) mapError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTenantNotFound
	}
	return err
}

package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/faeln1/membersync/internal/domain/tenant"
	"github.com/faeln1/membersync/internal/platform/database"
	"github.com/stretchr/testify/require"
)

// stores groups the three repositories over one backend.
type stores struct {
	members    MemberRepository
	tenants    TenantRepository
	deliveries DeliveryRepository
}

type backend struct {
	name string
	open func(t *testing.T) stores
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) stores {
			return stores{
				members:    NewInMemoryMemberRepo(),
				tenants:    NewInMemoryTenantRepo(),
				deliveries: NewInMemoryDeliveryRepo(),
			}
		}},
		{name: "sqlite", open: openSQLiteStores},
	}
}

func openSQLiteStores(t *testing.T) stores {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "members.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return stores{
		members:    NewSQLMemberRepo(db.SQL),
		tenants:    NewGormTenantRepo(db.Gorm),
		deliveries: NewGormDeliveryRepo(db.Gorm),
	}
}

var baseTime = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func touchTenant(t *testing.T, repo TenantRepository, id string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Touch(context.Background(), tenant.TouchInput{ID: id, DisplayName: "Tenant " + id, At: at}))
}

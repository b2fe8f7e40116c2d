package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// UnresolvedTenant names the archive folder for bodies no tenant was found for.
const UnresolvedTenant = "unresolved"

type UploadInput struct {
	Key         string
	ContentType string
	Body        io.Reader
	Size        int64
}

// Service stores raw webhook bodies and returns a URL for each.
type Service interface {
	PutObject(ctx context.Context, in UploadInput) (string, error)
}

// WebhookKey lays archived bodies out as webhooks/<tenant>/<yyyy/mm/dd>/<delivery>.json.
// A missing delivery id gets a random name so retries never overwrite each other.
func WebhookKey(tenantID, deliveryID string, receivedAt time.Time) string {
	if tenantID == "" {
		tenantID = UnresolvedTenant
	}
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	return fmt.Sprintf("webhooks/%s/%s/%s.json",
		url.PathEscape(tenantID),
		receivedAt.UTC().Format("2006/01/02"),
		url.PathEscape(deliveryID))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/faeln1/membersync/internal/domain/tenant"
	"github.com/skip2/go-qrcode"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// DirectoryService serves the read side: member listings, counts, exports.
type DirectoryService struct {
	members       repositories.MemberRepository
	tenants       repositories.TenantRepository
	resolver      *TenantResolver
	publicBaseURL string
	log           waLog.Logger
}

func NewDirectoryService(members repositories.MemberRepository, tenants repositories.TenantRepository, resolver *TenantResolver, publicBaseURL string, log waLog.Logger) *DirectoryService {
	if log == nil {
		log = waLog.Noop
	}
	return &DirectoryService{
		members:       members,
		tenants:       tenants,
		resolver:      resolver,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		log:           log,
	}
}

// ParseDirectoryStatus reads the ?status filter. Missing means active; "all"
// disables the filter.
func ParseDirectoryStatus(raw string) (member.Status, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return member.StatusActive, nil
	case "all":
		return "", nil
	}
	status, ok := member.ParseStatus(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// Canonical maps an explicit tenant reference to the stored tenant id. Known
// ids are kept; anything else goes through the resolver's slug mapping.
func (s *DirectoryService) Canonical(ctx context.Context, tenantID string) string {
	id := strings.TrimSpace(tenantID)
	if id == "" || s.tenants == nil {
		return id
	}
	if _, err := s.tenants.Get(ctx, id); err == nil {
		return id
	}
	if s.resolver == nil {
		return id
	}
	return s.resolver.canonical(ctx, id)
}

// ResolveTenant runs the read-mode resolver chain, fallback included.
func (s *DirectoryService) ResolveTenant(ctx context.Context, in ResolveInput) (Resolution, error) {
	return s.resolver.Resolve(ctx, in, ResolveForRead)
}

func (s *DirectoryService) List(ctx context.Context, tenantID string, status member.Status) ([]member.Member, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantUnresolved
	}
	members, err := s.members.List(ctx, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list members for %s: %w", tenantID, err)
	}
	return members, nil
}

func (s *DirectoryService) Stats(ctx context.Context, tenantID string) (member.Stats, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return member.Stats{}, ErrTenantUnresolved
	}
	stats, err := s.members.Stats(ctx, tenantID)
	if err != nil {
		return member.Stats{}, fmt.Errorf("member stats for %s: %w", tenantID, err)
	}
	return stats, nil
}

// Tenant returns the stored tenant record.
func (s *DirectoryService) Tenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, err := s.tenants.Get(ctx, strings.TrimSpace(tenantID))
	if err != nil {
		if errors.Is(err, repositories.ErrTenantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return t, nil
}

// Export renders the filtered directory as an xlsx workbook.
func (s *DirectoryService) Export(ctx context.Context, tenantID string, status member.Status) ([]byte, error) {
	members, err := s.List(ctx, tenantID, status)
	if err != nil {
		return nil, err
	}
	return buildDirectoryWorkbook(members)
}

// ShareURL is the public directory address for tenantID.
func (s *DirectoryService) ShareURL(tenantID string) string {
	path := "/directory/" + url.PathEscape(tenantID)
	if s.publicBaseURL == "" {
		return path
	}
	return s.publicBaseURL + path
}

// ShareQR encodes ShareURL as a PNG QR code.
func (s *DirectoryService) ShareQR(tenantID string, size int) ([]byte, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantUnresolved
	}
	if size <= 0 {
		size = defaultQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}
	png, err := qrcode.Encode(s.ShareURL(tenantID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

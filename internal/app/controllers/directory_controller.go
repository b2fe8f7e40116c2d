package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/app/services"
	"github.com/faeln1/membersync/internal/domain/member"
)

// autoTenant asks the resolver to work the tenant out from the request.
const autoTenant = "auto"

type DirectoryController struct {
	service *services.DirectoryService
}

func NewDirectoryController(s *services.DirectoryService) *DirectoryController {
	return &DirectoryController{service: s}
}

type directoryResponse struct {
	TenantID string          `json:"tenant_id"`
	Source   string          `json:"source,omitempty"`
	Status   string          `json:"status"`
	Members  []member.Member `json:"members"`
	Count    int             `json:"count"`
}

// Directory handles GET /directory/{tenantID}.
func (c *DirectoryController) Directory(w http.ResponseWriter, r *http.Request, tenantID string) {
	c.list(w, r, services.Resolution{TenantID: c.service.Canonical(r.Context(), tenantID)})
}

// Members handles GET /members/{tenantID|auto}.
func (c *DirectoryController) Members(w http.ResponseWriter, r *http.Request, tenantID string) {
	if !strings.EqualFold(strings.TrimSpace(tenantID), autoTenant) {
		c.list(w, r, services.Resolution{TenantID: c.service.Canonical(r.Context(), tenantID)})
		return
	}
	res, ok := c.resolve(w, r)
	if !ok {
		return
	}
	c.list(w, r, res)
}

func (c *DirectoryController) list(w http.ResponseWriter, r *http.Request, res services.Resolution) {
	status, err := services.ParseDirectoryStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	members, err := c.service.List(r.Context(), res.TenantID, status)
	if err != nil {
		writeError(w, directoryStatus(err), err)
		return
	}
	label := string(status)
	if label == "" {
		label = "all"
	}
	writeJSON(w, http.StatusOK, directoryResponse{
		TenantID: res.TenantID,
		Source:   res.Source,
		Status:   label,
		Members:  members,
		Count:    len(members),
	})
}

// Stats handles GET /directory/{tenantID}/stats.
func (c *DirectoryController) Stats(w http.ResponseWriter, r *http.Request, tenantID string) {
	stats, err := c.service.Stats(r.Context(), c.service.Canonical(r.Context(), tenantID))
	if err != nil {
		writeError(w, directoryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Export handles GET /directory/{tenantID}/export.xlsx.
func (c *DirectoryController) Export(w http.ResponseWriter, r *http.Request, tenantID string) {
	status, err := services.ParseDirectoryStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tenantID = c.service.Canonical(r.Context(), tenantID)
	data, err := c.service.Export(r.Context(), tenantID, status)
	if err != nil {
		writeError(w, directoryStatus(err), err)
		return
	}
	writeBinary(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "directory-"+sanitizeFilename(tenantID)+".xlsx", data)
}

// QR handles GET /directory/{tenantID}/qr.png?size=.
func (c *DirectoryController) QR(w http.ResponseWriter, r *http.Request, tenantID string) {
	size := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("size")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, ErrInvalidParam)
			return
		}
		size = v
	}
	png, err := c.service.ShareQR(c.service.Canonical(r.Context(), tenantID), size)
	if err != nil {
		writeError(w, directoryStatus(err), err)
		return
	}
	writeBinary(w, "image/png", "", png)
}

// Tenant handles GET /tenants/{tenantID}.
func (c *DirectoryController) Tenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	if strings.EqualFold(strings.TrimSpace(tenantID), autoTenant) {
		res, ok := c.resolve(w, r)
		if !ok {
			return
		}
		tenantID = res.TenantID
	} else {
		tenantID = c.service.Canonical(r.Context(), tenantID)
	}
	t, err := c.service.Tenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, directoryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *DirectoryController) resolve(w http.ResponseWriter, r *http.Request) (services.Resolution, bool) {
	res, err := c.service.ResolveTenant(r.Context(), services.ResolveInputFromRequest(r, nil))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrTenantUnresolved) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return services.Resolution{}, false
	}
	return res, true
}

func directoryStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrTenantUnresolved), errors.Is(err, services.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, repositories.ErrTenantNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func sanitizeFilename(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "tenant"
	}
	return b.String()
}

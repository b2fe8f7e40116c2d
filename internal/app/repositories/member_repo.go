package repositories

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/faeln1/membersync/internal/domain/member"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrTenantMissing  = errors.New("tenant does not exist")
	ErrMemberConflict = errors.New("member identity conflicts with an existing row")
)

// MemberRepository persists directory rows. Upsert and Deactivate report
// false when the stored row carries a newer event and the write was skipped.
type MemberRepository interface {
	FindByMembership(ctx context.Context, membershipID string) (*member.Member, error)
	FindByMember(ctx context.Context, tenantID, memberID string) (*member.Member, error)
	Upsert(ctx context.Context, in member.UpsertInput) (bool, error)
	Deactivate(ctx context.Context, in member.DeactivateInput) (bool, error)
	List(ctx context.Context, tenantID string, status member.Status) ([]member.Member, error)
	Stats(ctx context.Context, tenantID string) (member.Stats, error)
}

type memoryMemberRepo struct {
	mu           sync.RWMutex
	rows         map[string]*member.Member
	byMembership map[string]string
}

// NewInMemoryMemberRepo returns a MemberRepository kept in process memory.
func NewInMemoryMemberRepo() MemberRepository {
	return &memoryMemberRepo{
		rows:         make(map[string]*member.Member),
		byMembership: make(map[string]string),
	}
}

func memberKey(tenantID, memberID string) string {
	return strings.TrimSpace(tenantID) + "|" + strings.TrimSpace(memberID)
}

func (r *memoryMemberRepo) FindByMembership(ctx context.Context, membershipID string) (*member.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byMembership[membershipID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return cloneMember(r.rows[key]), nil
}

func (r *memoryMemberRepo) FindByMember(ctx context.Context, tenantID, memberID string) (*member.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[memberKey(tenantID, memberID)]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return cloneMember(row), nil
}

func (r *memoryMemberRepo) Upsert(ctx context.Context, in member.UpsertInput) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := in.Member
	var key string
	if in.Target == member.ConflictOnMembership {
		key = r.byMembership[member.Deref(m.MembershipID)]
	}
	if key == "" {
		key = memberKey(m.TenantID, m.MemberID)
	}

	if m.MembershipID != nil {
		if owner, ok := r.byMembership[*m.MembershipID]; ok && owner != key {
			return false, ErrMemberConflict
		}
	}

	existing, ok := r.rows[key]
	if !ok {
		row := cloneMember(&m)
		row.CreatedAt = m.UpdatedAt
		r.rows[key] = row
		if row.MembershipID != nil {
			r.byMembership[*row.MembershipID] = key
		}
		return true, nil
	}
	if existing.LastEventMs > m.LastEventMs {
		return false, nil
	}

	if m.MembershipID != nil {
		if existing.MembershipID != nil && *existing.MembershipID != *m.MembershipID {
			delete(r.byMembership, *existing.MembershipID)
		}
		existing.MembershipID = cloneString(m.MembershipID)
		r.byMembership[*m.MembershipID] = key
	}
	existing.Email = coalesce(m.Email, existing.Email)
	existing.DisplayName = coalesce(m.DisplayName, existing.DisplayName)
	existing.Username = coalesce(m.Username, existing.Username)
	existing.AvatarURL = coalesce(m.AvatarURL, existing.AvatarURL)
	existing.CustomFields = cloneFields(m.CustomFields)
	existing.Status = m.Status
	if in.ExplicitJoinedAt != nil {
		existing.JoinedAt = in.ExplicitJoinedAt.UTC()
	}
	existing.LastEventMs = m.LastEventMs
	existing.UpdatedAt = m.UpdatedAt
	return true, nil
}

func (r *memoryMemberRepo) Deactivate(ctx context.Context, in member.DeactivateInput) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[memberKey(in.TenantID, in.MemberID)]
	if !ok {
		return false, ErrMemberNotFound
	}
	if row.LastEventMs > in.EventMs {
		return false, nil
	}
	row.Status = member.StatusInactive
	row.LastEventMs = in.EventMs
	row.UpdatedAt = in.At.UTC()
	return true, nil
}

func (r *memoryMemberRepo) List(ctx context.Context, tenantID string, status member.Status) ([]member.Member, error) {
	r.mu.RLock()
	out := make([]member.Member, 0)
	for _, row := range r.rows {
		if row.TenantID != tenantID {
			continue
		}
		if status != "" && row.Status != status {
			continue
		}
		out = append(out, *cloneMember(row))
	}
	r.mu.RUnlock()
	sortMembers(out)
	return out, nil
}

func (r *memoryMemberRepo) Stats(ctx context.Context, tenantID string) (member.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := member.Stats{TenantID: tenantID}
	for _, row := range r.rows {
		if row.TenantID != tenantID {
			continue
		}
		stats.Total++
		if row.Status == member.StatusActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}
	return stats, nil
}

// sortMembers orders rows the way the SQL repository does: by label, then id.
func sortMembers(rows []member.Member) {
	sort.SliceStable(rows, func(i, j int) bool {
		li, lj := sortLabel(rows[i]), sortLabel(rows[j])
		if li != lj {
			return li < lj
		}
		return rows[i].MemberID < rows[j].MemberID
	})
}

func sortLabel(m member.Member) string {
	for _, v := range []*string{m.DisplayName, m.Username, m.Email} {
		if v != nil {
			return strings.ToLower(*v)
		}
	}
	return strings.ToLower(m.MemberID)
}

func coalesce(next, prev *string) *string {
	if next != nil {
		return cloneString(next)
	}
	return prev
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMember(m *member.Member) *member.Member {
	if m == nil {
		return nil
	}
	c := *m
	c.MembershipID = cloneString(m.MembershipID)
	c.Email = cloneString(m.Email)
	c.DisplayName = cloneString(m.DisplayName)
	c.Username = cloneString(m.Username)
	c.AvatarURL = cloneString(m.AvatarURL)
	c.CustomFields = cloneFields(m.CustomFields)
	return &c
}

package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// The statements below stay within the SQL subset postgres and sqlite share:
// $N placeholders, ON CONFLICT ... DO UPDATE ... WHERE, COALESCE.

const memberColumns = `tenant_id, member_id, membership_id, email, display_name, username, avatar_url,
        custom_fields, status, joined_at, last_event_ms, created_at, updated_at`

const upsertMemberQuery = `
        INSERT INTO members (` + memberColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (%s) DO UPDATE SET
            membership_id = COALESCE(EXCLUDED.membership_id, members.membership_id),
            email = COALESCE(EXCLUDED.email, members.email),
            display_name = COALESCE(EXCLUDED.display_name, members.display_name),
            username = COALESCE(EXCLUDED.username, members.username),
            avatar_url = COALESCE(EXCLUDED.avatar_url, members.avatar_url),
            custom_fields = EXCLUDED.custom_fields,
            status = EXCLUDED.status,
            joined_at = COALESCE($14, members.joined_at),
            last_event_ms = EXCLUDED.last_event_ms,
            updated_at = EXCLUDED.updated_at
        WHERE members.last_event_ms <= EXCLUDED.last_event_ms`

var (
	upsertOnMember     = fmt.Sprintf(upsertMemberQuery, "tenant_id, member_id")
	upsertOnMembership = fmt.Sprintf(upsertMemberQuery, "membership_id")
)

type sqlMemberRepo struct {
	db *sql.DB
}

// NewSQLMemberRepo builds a MemberRepository over a migrated postgres or
// sqlite database.
func NewSQLMemberRepo(db *sql.DB) MemberRepository {
	return &sqlMemberRepo{db: db}
}

func (r *sqlMemberRepo) FindByMembership(ctx context.Context, membershipID string) (*member.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE membership_id = $1`, membershipID)
	m, err := scanMember(row)
	if err != nil {
		return nil, r.mapError(err)
	}
	return m, nil
}

func (r *sqlMemberRepo) FindByMember(ctx context.Context, tenantID, memberID string) (*member.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE tenant_id = $1 AND member_id = $2`, tenantID, memberID)
	m, err := scanMember(row)
	if err != nil {
		return nil, r.mapError(err)
	}
	return m, nil
}

func (r *sqlMemberRepo) Upsert(ctx context.Context, in member.UpsertInput) (bool, error) {
	m := in.Member
	fields := m.CustomFields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encode custom fields: %w", err)
	}

	query := upsertOnMember
	if in.Target == member.ConflictOnMembership && m.MembershipID != nil {
		query = upsertOnMembership
	}

	var explicitJoined any
	if in.ExplicitJoinedAt != nil {
		explicitJoined = in.ExplicitJoinedAt.UTC()
	}

	res, err := r.db.ExecContext(ctx, query,
		m.TenantID,
		m.MemberID,
		nullString(m.MembershipID),
		nullString(m.Email),
		nullString(m.DisplayName),
		nullString(m.Username),
		nullString(m.AvatarURL),
		string(fieldsJSON),
		string(m.Status),
		m.JoinedAt.UTC(),
		m.LastEventMs,
		m.UpdatedAt.UTC(),
		m.UpdatedAt.UTC(),
		explicitJoined,
	)
	if err != nil {
		return false, r.mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *sqlMemberRepo) Deactivate(ctx context.Context, in member.DeactivateInput) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE members
        SET status = $1, last_event_ms = $2, updated_at = $3
        WHERE tenant_id = $4 AND member_id = $5 AND last_event_ms <= $6`,
		string(member.StatusInactive), in.EventMs, in.At.UTC(), in.TenantID, in.MemberID, in.EventMs)
	if err != nil {
		return false, r.mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM members WHERE tenant_id = $1 AND member_id = $2`, in.TenantID, in.MemberID).Scan(&exists)
	if err != nil {
		return false, r.mapError(err)
	}
	return false, nil
}

func (r *sqlMemberRepo) List(ctx context.Context, tenantID string, status member.Status) ([]member.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY LOWER(COALESCE(display_name, username, email, member_id)), member_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]member.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *sqlMemberRepo) Stats(ctx context.Context, tenantID string) (member.Stats, error) {
	stats := member.Stats{TenantID: tenantID}
	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN status = 'inactive' THEN 1 ELSE 0 END), 0)
        FROM members
        WHERE tenant_id = $1`, tenantID).Scan(&stats.Total, &stats.Active, &stats.Inactive)
	if err != nil {
		return member.Stats{}, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*member.Member, error) {
	var (
		m            member.Member
		membershipID sql.NullString
		email        sql.NullString
		displayName  sql.NullString
		username     sql.NullString
		avatarURL    sql.NullString
		fieldsRaw    []byte
		status       string
		joinedAt     time.Time
	)
	if err := row.Scan(
		&m.TenantID,
		&m.MemberID,
		&membershipID,
		&email,
		&displayName,
		&username,
		&avatarURL,
		&fieldsRaw,
		&status,
		&joinedAt,
		&m.LastEventMs,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.MembershipID = fromNull(membershipID)
	m.Email = fromNull(email)
	m.DisplayName = fromNull(displayName)
	m.Username = fromNull(username)
	m.AvatarURL = fromNull(avatarURL)
	m.Status = member.Status(status)
	m.JoinedAt = joinedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.CustomFields = map[string]any{}
	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &m.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return &m, nil
}

func (r *sqlMemberRepo) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMemberNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			return ErrTenantMissing
		case "23505":
			return ErrMemberConflict
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrTenantMissing
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return ErrMemberConflict
		}
	}
	return err
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

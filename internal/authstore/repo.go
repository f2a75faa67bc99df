// Package authstore is the authoritative attendance store and member
// directory, backed by Postgres. It is the final authority for the one
// entry per (member, session) invariant.
package authstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"miqaatsync/internal/model"
)

// Repository persists directory and attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		its        TEXT PRIMARY KEY,
		card_id    TEXT UNIQUE,
		name       TEXT NOT NULL,
		mohallah   TEXT NOT NULL DEFAULT '',
		team       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS miqaats (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		kind         TEXT NOT NULL,
		start_date   TIMESTAMPTZ,
		zone         TEXT NOT NULL DEFAULT '',
		req_uniform  BOOLEAN NOT NULL DEFAULT FALSE,
		req_topi     BOOLEAN NOT NULL DEFAULT FALSE,
		req_offering BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS miqaat_eligibility (
		miqaat_id TEXT NOT NULL REFERENCES miqaats(id),
		kind      TEXT NOT NULL,
		value     TEXT NOT NULL,
		PRIMARY KEY (miqaat_id, kind, value)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		miqaat_id    TEXT NOT NULL REFERENCES miqaats(id),
		day          INT NOT NULL DEFAULT 1,
		name         TEXT NOT NULL,
		start_at     TIMESTAMPTZ NOT NULL,
		end_at       TIMESTAMPTZ NOT NULL,
		reporting_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id          TEXT PRIMARY KEY,
		miqaat_id   TEXT NOT NULL REFERENCES miqaats(id),
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		member_its  TEXT NOT NULL,
		member_name TEXT NOT NULL,
		marked_at   TIMESTAMPTZ NOT NULL,
		marked_by   TEXT NOT NULL,
		status      TEXT NOT NULL,
		uniform     BOOLEAN,
		topi        BOOLEAN,
		offering    BOOLEAN,
		idem_token  TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (member_its, session_id)
	);

	CREATE TABLE IF NOT EXISTS operators (
		its        TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT 'marker',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance(session_id);
	CREATE INDEX IF NOT EXISTS idx_members_mohallah   ON members(mohallah);
	CREATE INDEX IF NOT EXISTS idx_members_team       ON members(team);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Miqaat loads a miqaat with sessions, eligibility lists and confirmed
// entries. Returns nil when absent.
func (r *Repository) Miqaat(ctx context.Context, id string) (*model.Miqaat, error) {
	var m model.Miqaat
	var startDate sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, kind, start_date, zone, req_uniform, req_topi, req_offering
		FROM miqaats WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Kind, &startDate, &m.Zone,
		&m.Compliance.Uniform, &m.Compliance.Topi, &m.Compliance.Offering)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if startDate.Valid {
		m.StartDate = startDate.Time
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, day, name, start_at, end_at, reporting_at
		FROM sessions WHERE miqaat_id = $1 ORDER BY day, start_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s model.Session
		var reporting sql.NullTime
		if err := rows.Scan(&s.ID, &s.Day, &s.Name, &s.Start, &s.End, &reporting); err != nil {
			return nil, err
		}
		if reporting.Valid {
			s.Reporting = reporting.Time
		}
		m.Sessions = append(m.Sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	elig, err := r.db.QueryContext(ctx,
		`SELECT kind, value FROM miqaat_eligibility WHERE miqaat_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer elig.Close()
	for elig.Next() {
		var kind, value string
		if err := elig.Scan(&kind, &value); err != nil {
			return nil, err
		}
		switch kind {
		case "its":
			m.EligibleITS = append(m.EligibleITS, value)
		case "mohallah":
			m.EligibleMohallahs = append(m.EligibleMohallahs, value)
		case "team":
			m.EligibleTeams = append(m.EligibleTeams, value)
		}
	}
	if err := elig.Err(); err != nil {
		return nil, err
	}

	m.Entries, err = r.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Entries returns the confirmed attendance entries for a miqaat, oldest
// first (append-only order).
func (r *Repository) Entries(ctx context.Context, miqaatID string) ([]model.AttendanceEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_its, member_name, session_id, marked_at, marked_by, status,
		       uniform, topi, offering
		FROM attendance WHERE miqaat_id = $1 ORDER BY created_at
	`, miqaatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AttendanceEntry
	for rows.Next() {
		var e model.AttendanceEntry
		var uniform, topi, offering *bool
		if err := rows.Scan(&e.MemberITS, &e.MemberName, &e.SessionID, &e.MarkedAt,
			&e.MarkedBy, &e.Status, &uniform, &topi, &offering); err != nil {
			return nil, err
		}
		if uniform != nil || topi != nil || offering != nil {
			e.Compliance = &model.CompliancePayload{Uniform: uniform, Topi: topi, Offering: offering}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EligibleMembers returns the directory slice a miqaat's eligibility rules
// admit; the whole directory when no restriction is configured.
func (r *Repository) EligibleMembers(ctx context.Context, m *model.Miqaat) ([]model.Member, error) {
	var rows *sql.Rows
	var err error
	switch {
	case len(m.EligibleITS) > 0:
		rows, err = r.db.QueryContext(ctx, `
			SELECT mem.its, COALESCE(mem.card_id, ''), mem.name, mem.mohallah, mem.team
			FROM members mem
			JOIN miqaat_eligibility el ON el.value = mem.its AND el.kind = 'its'
			WHERE el.miqaat_id = $1 ORDER BY mem.its
		`, m.ID)
	case len(m.EligibleMohallahs) > 0 || len(m.EligibleTeams) > 0:
		rows, err = r.db.QueryContext(ctx, `
			SELECT DISTINCT mem.its, COALESCE(mem.card_id, ''), mem.name, mem.mohallah, mem.team
			FROM members mem
			JOIN miqaat_eligibility el ON el.miqaat_id = $1
			WHERE (el.kind = 'mohallah' AND el.value = mem.mohallah)
			   OR (el.kind = 'team' AND el.value = mem.team)
			ORDER BY mem.its
		`, m.ID)
	default:
		rows, err = r.db.QueryContext(ctx, `
			SELECT its, COALESCE(card_id, ''), name, mohallah, team
			FROM members ORDER BY its
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var mem model.Member
		if err := rows.Scan(&mem.ITS, &mem.CardID, &mem.Name, &mem.Mohallah, &mem.Team); err != nil {
			return nil, err
		}
		members = append(members, mem)
	}
	return members, rows.Err()
}

// LookupMember resolves either identifier; nil when absent.
func (r *Repository) LookupMember(ctx context.Context, ident string) (*model.Member, error) {
	var mem model.Member
	err := r.db.QueryRowContext(ctx, `
		SELECT its, COALESCE(card_id, ''), name, mohallah, team
		FROM members WHERE its = $1 OR card_id = $1
	`, ident).Scan(&mem.ITS, &mem.CardID, &mem.Name, &mem.Mohallah, &mem.Team)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mem, nil
}

// InsertAttendanceIfAbsent appends an entry unless one already exists for
// the (member, session) pair. The unique constraint plus ON CONFLICT DO
// NOTHING makes retried writes with the same idempotency token converge to
// a single row; inserted=false signals the conflict.
func (r *Repository) InsertAttendanceIfAbsent(ctx context.Context, miqaatID, idemToken string, e model.AttendanceEntry) (bool, error) {
	if e.MarkedAt.IsZero() {
		e.MarkedAt = time.Now().UTC()
	}
	var uniform, topi, offering *bool
	if e.Compliance != nil {
		uniform, topi, offering = e.Compliance.Uniform, e.Compliance.Topi, e.Compliance.Offering
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance
			(id, miqaat_id, session_id, member_its, member_name, marked_at, marked_by,
			 status, uniform, topi, offering, idem_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (member_its, session_id) DO NOTHING
	`, uuid.NewString(), miqaatID, e.SessionID, e.MemberITS, e.MemberName, e.MarkedAt,
		e.MarkedBy, e.Status, uniform, topi, offering, idemToken)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SessionExists reports whether a session belongs to the miqaat.
func (r *Repository) SessionExists(ctx context.Context, miqaatID, sessionID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = $1 AND miqaat_id = $2`, sessionID, miqaatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Operator returns an operator's role, or "" when unknown.
func (r *Repository) Operator(ctx context.Context, its string) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx, `SELECT role FROM operators WHERE its = $1`, its).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

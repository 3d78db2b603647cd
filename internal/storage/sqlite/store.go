// Package sqlite provides the SQLite-backed durable store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/concort/internal/core"
	"github.com/dkeye/concort/internal/domain"
	"github.com/dkeye/concort/internal/storage/sqlite/migrations"
	"github.com/rs/zerolog/log"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var _ core.Store = (*Store)(nil)

// Store persists participants, matches and messages in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toNanos(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(0, value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway and this keeps
	// pairing transactions from failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Str("module", "storage.sqlite").Str("path", path).Msg("store opened")
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const participantColumns = `id, name, gender, age, city, status, queue_rank, eligible_at, registered_at, last_active_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p                                  domain.Participant
		gender, status                     string
		rank                               sql.NullInt64
		eligibleAt, registeredAt, activeAt int64
	)
	if err := row.Scan(&p.ID, &p.Name, &gender, &p.Age, &p.City, &status, &rank, &eligibleAt, &registeredAt, &activeAt); err != nil {
		return domain.Participant{}, err
	}
	p.Gender = domain.Gender(gender)
	p.Status = domain.ParticipantStatus(status)
	if rank.Valid {
		r := int(rank.Int64)
		p.QueueRank = &r
	}
	p.EligibleAt = fromNanos(eligibleAt)
	p.RegisteredAt = fromNanos(registeredAt)
	p.LastActiveAt = fromNanos(activeAt)
	return p, nil
}

func nullRank(rank *int) sql.NullInt64 {
	if rank == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*rank), Valid: true}
}

// CreateParticipant inserts one participant record.
func (s *Store) CreateParticipant(ctx context.Context, p domain.Participant) error {
	if strings.TrimSpace(string(p.ID)) == "" {
		return fmt.Errorf("participant id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO participants (`+participantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), p.Name, string(p.Gender), p.Age, p.City, string(p.Status), nullRank(p.QueueRank),
		toNanos(p.EligibleAt), toNanos(p.RegisteredAt), toNanos(p.LastActiveAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE) {
			return fmt.Errorf("create participant %s: %w", p.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// GetParticipant returns one participant by ID.
func (s *Store) GetParticipant(ctx context.Context, id domain.ParticipantID) (domain.Participant, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, string(id))
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
		}
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// SaveProfile updates the editable profile fields.
func (s *Store) SaveProfile(ctx context.Context, p domain.Participant) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE participants SET name = ?, gender = ?, age = ?, city = ?, last_active_at = ? WHERE id = ?`,
		p.Name, string(p.Gender), p.Age, p.City, toNanos(p.LastActiveAt), string(p.ID),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return expectOne(res, fmt.Errorf("participant %s: %w", p.ID, domain.ErrNotFound))
}

// MarkWaiting moves id into the waiting pool at the tail of its partition.
func (s *Store) MarkWaiting(ctx context.Context, id domain.ParticipantID, from domain.ParticipantStatus, at time.Time) (int, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin mark waiting: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var gender string
	err = tx.QueryRowContext(ctx, `SELECT gender FROM participants WHERE id = ? AND status = ?`, string(id), string(from)).Scan(&gender)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("participant %s left %s: %w", id, from, domain.ErrConflict)
		}
		return 0, fmt.Errorf("load participant: %w", err)
	}

	var maxRank int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(queue_rank), 0) FROM participants WHERE gender = ? AND status = ?`,
		gender, string(domain.StatusWaiting),
	).Scan(&maxRank); err != nil {
		return 0, fmt.Errorf("max rank: %w", err)
	}
	rank := maxRank + 1

	res, err := tx.ExecContext(ctx,
		`UPDATE participants SET status = ?, queue_rank = ?, eligible_at = ?, last_active_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusWaiting), rank, toNanos(at), toNanos(at), string(id), string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("mark waiting: %w", err)
	}
	if err := expectOne(res, domain.ErrConflict); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mark waiting: %w", err)
	}
	return rank, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadWaitingParticipants returns the waiting partition oldest first.
func (s *Store) LoadWaitingParticipants(ctx context.Context, g domain.Gender) ([]domain.Participant, error) {
	return loadWaiting(ctx, s.sqlDB, g)
}

func loadWaiting(ctx context.Context, q querier, g domain.Gender) ([]domain.Participant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE gender = ? AND status = ?
		 ORDER BY eligible_at ASC, id ASC`,
		string(g), string(domain.StatusWaiting),
	)
	if err != nil {
		return nil, fmt.Errorf("load waiting: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunPass reads both partitions, asks plan for the pass and applies it, all
// in one immediate transaction. The write lock is held from the first read,
// so enqueues and passes from other handles or processes wait their turn.
// Every touched participant must still be waiting; otherwise nothing is
// written and ErrConflict is returned.
func (s *Store) RunPass(ctx context.Context, plan core.PlanFunc) (core.PairingPlan, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return core.PairingPlan{}, fmt.Errorf("begin pairing: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	males, err := loadWaiting(ctx, tx, domain.GenderMale)
	if err != nil {
		return core.PairingPlan{}, fmt.Errorf("load waiting males: %w", err)
	}
	females, err := loadWaiting(ctx, tx, domain.GenderFemale)
	if err != nil {
		return core.PairingPlan{}, fmt.Errorf("load waiting females: %w", err)
	}
	p := plan(males, females)
	if p.Empty() {
		return p, nil
	}
	if err := applyPairing(ctx, tx, p); err != nil {
		return core.PairingPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.PairingPlan{}, fmt.Errorf("commit pairing: %w", err)
	}
	return p, nil
}

func applyPairing(ctx context.Context, tx *sql.Tx, plan core.PairingPlan) error {
	pair := func(id domain.ParticipantID, g domain.Gender) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE participants SET status = ?, queue_rank = NULL WHERE id = ? AND gender = ? AND status = ?`,
			string(domain.StatusMatched), string(id), string(g), string(domain.StatusWaiting),
		)
		if err != nil {
			return fmt.Errorf("pair participant %s: %w", id, err)
		}
		return expectOne(res, fmt.Errorf("participant %s not waiting as %s: %w", id, g, domain.ErrConflict))
	}

	for _, m := range plan.Matches {
		if err := pair(m.MaleID, domain.GenderMale); err != nil {
			return err
		}
		if err := pair(m.FemaleID, domain.GenderFemale); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO matches (id, male_id, female_id, status, matched_at, completed_at) VALUES (?, ?, ?, ?, ?, NULL)`,
			string(m.ID), string(m.MaleID), string(m.FemaleID), string(m.Status), toNanos(m.MatchedAt),
		); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
	}
	for _, r := range plan.Ranks {
		res, err := tx.ExecContext(ctx,
			`UPDATE participants SET queue_rank = ? WHERE id = ? AND status = ?`,
			r.Rank, string(r.ID), string(domain.StatusWaiting),
		)
		if err != nil {
			return fmt.Errorf("rerank %s: %w", r.ID, err)
		}
		if err := expectOne(res, fmt.Errorf("participant %s not waiting: %w", r.ID, domain.ErrConflict)); err != nil {
			return err
		}
	}
	return nil
}

// CountWaiting returns the size of both partitions.
func (s *Store) CountWaiting(ctx context.Context) (int, int, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT gender, COUNT(*) FROM participants WHERE status = ? GROUP BY gender`,
		string(domain.StatusWaiting),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("count waiting: %w", err)
	}
	defer rows.Close()

	var male, female int
	for rows.Next() {
		var (
			gender string
			n      int
		)
		if err := rows.Scan(&gender, &n); err != nil {
			return 0, 0, fmt.Errorf("scan count: %w", err)
		}
		switch domain.Gender(gender) {
		case domain.GenderMale:
			male = n
		case domain.GenderFemale:
			female = n
		}
	}
	return male, female, rows.Err()
}

// RankOf returns the participant's queue rank, nil when not waiting.
func (s *Store) RankOf(ctx context.Context, id domain.ParticipantID) (*int, error) {
	var rank sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT queue_rank FROM participants WHERE id = ?`, string(id)).Scan(&rank)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("rank of: %w", err)
	}
	if !rank.Valid {
		return nil, nil
	}
	r := int(rank.Int64)
	return &r, nil
}

const matchColumns = `id, male_id, female_id, status, matched_at, completed_at`

func scanMatch(row rowScanner) (domain.Match, error) {
	var (
		m           domain.Match
		status      string
		matchedAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.MaleID, &m.FemaleID, &status, &matchedAt, &completedAt); err != nil {
		return domain.Match{}, err
	}
	m.Status = domain.MatchStatus(status)
	m.MatchedAt = fromNanos(matchedAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		m.CompletedAt = &t
	}
	return m, nil
}

// GetMatch returns one match by ID.
func (s *Store) GetMatch(ctx context.Context, id domain.MatchID) (domain.Match, error) {
	m, err := scanMatch(s.sqlDB.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Match{}, fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
		}
		return domain.Match{}, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

// ListMatches returns pid's matches, newest first, with partner and
// unread/last-message summary.
func (s *Store) ListMatches(ctx context.Context, pid domain.ParticipantID) ([]core.MatchSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE male_id = ? OR female_id = ? ORDER BY matched_at DESC`,
		string(pid), string(pid),
	)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	out := make([]core.MatchSummary, 0, len(matches))
	for _, m := range matches {
		partner, err := s.GetParticipant(ctx, m.PartnerOf(pid))
		if err != nil {
			return nil, err
		}
		sum := core.MatchSummary{Match: m, Partner: partner}
		if err := s.sqlDB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE match_id = ? AND sender_id <> ? AND is_read = 0`,
			string(m.ID), string(pid),
		).Scan(&sum.UnreadCount); err != nil {
			return nil, fmt.Errorf("unread count: %w", err)
		}
		last, err := scanMessage(s.sqlDB.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE match_id = ? ORDER BY sent_at DESC, id DESC LIMIT 1`, string(m.ID)))
		switch {
		case err == nil:
			sum.LastMessage = &last
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("last message: %w", err)
		}
		out = append(out, sum)
	}
	return out, nil
}

// EndMatch closes an active match and releases both members.
func (s *Store) EndMatch(ctx context.Context, id domain.MatchID, status domain.MatchStatus, at time.Time) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin end match: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("load match: %w", err)
	}
	if m.Status != domain.MatchActive {
		return fmt.Errorf("match %s is %s: %w", id, m.Status, domain.ErrInvalidState)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE matches SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), toNanos(at), string(id),
	); err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE participants SET status = ?, last_active_at = ? WHERE id IN (?, ?) AND status = ?`,
		string(domain.StatusInactive), toNanos(at), string(m.MaleID), string(m.FemaleID), string(domain.StatusMatched),
	); err != nil {
		return fmt.Errorf("release participants: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit end match: %w", err)
	}
	return nil
}

const messageColumns = `id, match_id, sender_id, content, is_read, sent_at`

func scanMessage(row rowScanner) (domain.Message, error) {
	var (
		m      domain.Message
		sentAt int64
	)
	if err := row.Scan(&m.ID, &m.MatchID, &m.SenderID, &m.Content, &m.IsRead, &sentAt); err != nil {
		return domain.Message{}, err
	}
	m.SentAt = fromNanos(sentAt)
	return m, nil
}

// AppendMessage inserts one message.
func (s *Store) AppendMessage(ctx context.Context, m domain.Message) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		string(m.ID), string(m.MatchID), string(m.SenderID), m.Content, m.IsRead, toNanos(m.SentAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY) {
			return fmt.Errorf("append message to %s: %w", m.MatchID, domain.ErrNotFound)
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// MarkMessagesRead flags reader's unread incoming messages.
func (s *Store) MarkMessagesRead(ctx context.Context, matchID domain.MatchID, reader domain.ParticipantID) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE match_id = ? AND sender_id <> ? AND is_read = 0`,
		string(matchID), string(reader),
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// ListMessages returns one page of a match's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, matchID domain.MatchID, offset, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE match_id = ?
		 ORDER BY sent_at ASC, id ASC LIMIT ? OFFSET ?`,
		string(matchID), limit, max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return otherwise
	}
	return nil
}

func isConstraint(err error, codes ...int) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, code := range codes {
		if sqliteErr.Code() == code {
			return true
		}
	}
	return false
}

package utils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"topup-go/models"
)

var (
	ErrDonationNotFound = errors.New("donation not found")
	ErrSlipAlreadyUsed  = errors.New("slip has already been used")
	ErrInvalidStatus    = errors.New("donation is not in a state that allows this change")
	ErrStoreClosed      = errors.New("store is closed")
)

// Store keeps donations and the RCON command audit. Without a database it
// falls back to process memory.
type Store struct {
	pool   *pgxpool.Pool
	closed bool
	now    func() time.Time

	mu        sync.RWMutex
	donations map[uuid.UUID]*models.Donation
	commands  []models.CommandLog
}

// NewMemoryStore returns a store that never touches a database.
func NewMemoryStore() *Store {
	return &Store{
		now:       time.Now,
		donations: make(map[uuid.UUID]*models.Donation),
	}
}

// NewStore connects to PostgreSQL and ensures the schema. An empty URL gives
// a memory store.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	store := NewMemoryStore()
	if databaseURL == "" {
		return store, nil
	}

	// Parse the database URL to add connection pool settings
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Donations are low volume; keep a small warm pool
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 45 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams = map[string]string{
		"application_name":                    "topup-bot",
		"timezone":                            "UTC",
		"statement_timeout":                   "30s",
		"idle_in_transaction_session_timeout": "60s",
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	conn.Release()

	store.pool = pool
	if err := store.createTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Persistent reports whether the store is backed by PostgreSQL.
func (s *Store) Persistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool != nil
}

// Close releases the connection pool. Every later call fails with
// ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.closed = true
	s.mu.Unlock()

	if pool != nil {
		pool.Close()
	}
}

// db returns the pool, nil for a memory store.
func (s *Store) db() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.pool, nil
}

func (s *Store) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS donations (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			steam_id TEXT NOT NULL,
			item_key TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			trans_ref TEXT UNIQUE,
			paid_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			endpoint_key TEXT NOT NULL DEFAULT '',
			fail_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_user_status ON donations(user_id, status)`,
		`CREATE TABLE IF NOT EXISTS rcon_commands (
			id BIGSERIAL PRIMARY KEY,
			endpoint_key TEXT NOT NULL,
			command TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			donation_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

const donationColumns = `id, user_id, username, steam_id, item_key, amount, channel_id, status,
	COALESCE(trans_ref, ''), paid_amount, endpoint_key, fail_reason, created_at, updated_at`

func scanDonation(row pgx.Row) (*models.Donation, error) {
	var d models.Donation
	var status string
	err := row.Scan(&d.ID, &d.UserID, &d.Username, &d.SteamID, &d.ItemKey, &d.Amount, &d.ChannelID, &status,
		&d.TransRef, &d.PaidAmount, &d.EndpointKey, &d.FailReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = models.DonationStatus(status)
	return &d, nil
}

// CreateDonation stores a new pending donation and fills in its ID and
// timestamps.
func (s *Store) CreateDonation(ctx context.Context, d *models.Donation) error {
	now := s.now()
	d.ID = uuid.New()
	d.Status = models.StatusPending
	d.CreatedAt = now
	d.UpdatedAt = now

	pool, err := s.db()
	if err != nil {
		return err
	}
	if pool == nil {
		s.mu.Lock()
		copied := *d
		s.donations[d.ID] = &copied
		s.mu.Unlock()
		return nil
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO donations (id, user_id, username, steam_id, item_key, amount, channel_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		d.ID, d.UserID, d.Username, d.SteamID, d.ItemKey, d.Amount, d.ChannelID, string(d.Status), now)
	if err != nil {
		return fmt.Errorf("failed to create donation: %w", err)
	}
	return nil
}

// GetDonation loads a donation by ID.
func (s *Store) GetDonation(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		d, ok := s.donations[id]
		if !ok {
			return nil, ErrDonationNotFound
		}
		copied := *d
		return &copied, nil
	}

	d, err := scanDonation(pool.QueryRow(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}
	return d, nil
}

// OpenDonationForUser returns the user's most recent pending donation.
func (s *Store) OpenDonationForUser(ctx context.Context, userID string) (*models.Donation, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var latest *models.Donation
		for _, d := range s.donations {
			if d.UserID != userID || !d.IsOpen() {
				continue
			}
			if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
				latest = d
			}
		}
		if latest == nil {
			return nil, ErrDonationNotFound
		}
		copied := *latest
		return &copied, nil
	}

	d, err := scanDonation(pool.QueryRow(ctx, `
		SELECT `+donationColumns+` FROM donations
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`, userID, string(models.StatusPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to get open donation: %w", err)
	}
	return d, nil
}

// AttachSlip marks a pending donation paid with a verified slip. A slip
// reference can only ever be attached once.
func (s *Store) AttachSlip(ctx context.Context, id uuid.UUID, transRef string, paidAmount float64) error {
	if transRef == "" {
		return fmt.Errorf("slip reference is empty")
	}

	pool, err := s.db()
	if err != nil {
		return err
	}
	if pool == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		d, ok := s.donations[id]
		if !ok {
			return ErrDonationNotFound
		}
		for otherID, other := range s.donations {
			if otherID != id && other.TransRef == transRef {
				return ErrSlipAlreadyUsed
			}
		}
		if d.Status != models.StatusPending {
			return ErrInvalidStatus
		}
		d.Status = models.StatusPaid
		d.TransRef = transRef
		d.PaidAmount = paidAmount
		d.UpdatedAt = s.now()
		return nil
	}

	tag, err := pool.Exec(ctx, `
		UPDATE donations SET status = $2, trans_ref = $3, paid_amount = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, string(models.StatusPaid), transRef, paidAmount, string(models.StatusPending))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlipAlreadyUsed
		}
		return fmt.Errorf("failed to attach slip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrInvalid(ctx, id)
	}
	return nil
}

// CompleteDonation marks a paid donation delivered.
func (s *Store) CompleteDonation(ctx context.Context, id uuid.UUID, endpointKey string) error {
	return s.transition(ctx, id, []models.DonationStatus{models.StatusPaid}, func(d *models.Donation) {
		d.Status = models.StatusCompleted
		d.EndpointKey = endpointKey
		d.FailReason = ""
	}, `UPDATE donations SET status = $3, endpoint_key = $4, fail_reason = '', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`,
		string(models.StatusCompleted), endpointKey)
}

// MarkDeliveryFailed records why a paid donation could not be delivered. The
// donation stays paid so it can be retried.
func (s *Store) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, endpointKey, reason string) error {
	return s.transition(ctx, id, []models.DonationStatus{models.StatusPaid}, func(d *models.Donation) {
		d.EndpointKey = endpointKey
		d.FailReason = reason
	}, `UPDATE donations SET endpoint_key = $3, fail_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`,
		endpointKey, reason)
}

// FailDonation closes a pending or paid donation as failed.
func (s *Store) FailDonation(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transition(ctx, id, []models.DonationStatus{models.StatusPending, models.StatusPaid}, func(d *models.Donation) {
		d.Status = models.StatusFailed
		d.FailReason = reason
	}, `UPDATE donations SET status = $3, fail_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`,
		string(models.StatusFailed), reason)
}

// transition applies a status change guarded by the allowed source states.
// The query gets the id as $1, the allowed states as $2 and args after that.
func (s *Store) transition(ctx context.Context, id uuid.UUID, from []models.DonationStatus, apply func(*models.Donation), query string, args ...interface{}) error {
	pool, err := s.db()
	if err != nil {
		return err
	}
	if pool == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		d, ok := s.donations[id]
		if !ok {
			return ErrDonationNotFound
		}
		if !statusIn(d.Status, from) {
			return ErrInvalidStatus
		}
		apply(d)
		d.UpdatedAt = s.now()
		return nil
	}

	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	params := append([]interface{}{id, allowed}, args...)

	tag, err := pool.Exec(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update donation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrInvalid(ctx, id)
	}
	return nil
}

func (s *Store) missingOrInvalid(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetDonation(ctx, id); err != nil {
		return err
	}
	return ErrInvalidStatus
}

func statusIn(status models.DonationStatus, set []models.DonationStatus) bool {
	for _, st := range set {
		if st == status {
			return true
		}
	}
	return false
}

// SlipUsed reports whether a slip reference is attached to any donation.
func (s *Store) SlipUsed(ctx context.Context, transRef string) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	if pool == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, d := range s.donations {
			if d.TransRef == transRef {
				return true, nil
			}
		}
		return false, nil
	}

	var exists bool
	err = pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM donations WHERE trans_ref = $1)`, transRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slip: %w", err)
	}
	return exists, nil
}

// TopDonors sums completed donations per user, largest first.
func (s *Store) TopDonors(ctx context.Context, limit int) ([]models.DonorTotal, error) {
	if limit <= 0 {
		limit = 10
	}

	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		s.mu.RLock()
		totals := make(map[string]*models.DonorTotal)
		for _, d := range s.donations {
			if d.Status != models.StatusCompleted {
				continue
			}
			t, ok := totals[d.UserID]
			if !ok {
				t = &models.DonorTotal{UserID: d.UserID}
				totals[d.UserID] = t
			}
			if d.Username != "" {
				t.Username = d.Username
			}
			t.Total += d.PaidAmount
			t.Donations++
		}
		s.mu.RUnlock()

		donors := make([]models.DonorTotal, 0, len(totals))
		for _, t := range totals {
			donors = append(donors, *t)
		}
		sort.Slice(donors, func(i, j int) bool {
			if donors[i].Total != donors[j].Total {
				return donors[i].Total > donors[j].Total
			}
			return donors[i].UserID < donors[j].UserID
		})
		if len(donors) > limit {
			donors = donors[:limit]
		}
		return donors, nil
	}

	rows, err := pool.Query(ctx, `
		SELECT user_id, MAX(username), SUM(paid_amount), COUNT(*)
		FROM donations WHERE status = $1
		GROUP BY user_id
		ORDER BY SUM(paid_amount) DESC, user_id
		LIMIT $2`, string(models.StatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top donors: %w", err)
	}
	defer rows.Close()

	var donors []models.DonorTotal
	for rows.Next() {
		var t models.DonorTotal
		if err := rows.Scan(&t.UserID, &t.Username, &t.Total, &t.Donations); err != nil {
			return nil, fmt.Errorf("failed to scan donor: %w", err)
		}
		donors = append(donors, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read donors: %w", err)
	}
	return donors, nil
}

// maxMemoryCommands bounds the in-memory audit log.
const maxMemoryCommands = 500

// RecordCommand appends an RCON command to the audit log.
func (s *Store) RecordCommand(ctx context.Context, entry models.CommandLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.Response = truncateRunes(strings.TrimSpace(entry.Response), 2000)

	pool, err := s.db()
	if err != nil {
		return err
	}
	if pool == nil {
		s.mu.Lock()
		s.commands = append(s.commands, entry)
		if len(s.commands) > maxMemoryCommands {
			s.commands = s.commands[len(s.commands)-maxMemoryCommands:]
		}
		s.mu.Unlock()
		return nil
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO rcon_commands (endpoint_key, command, success, response, error, donation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.EndpointKey, entry.Command, entry.Success, entry.Response, entry.Error, entry.DonationID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecentCommands returns the newest audited commands first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]models.CommandLog, error) {
	if limit <= 0 {
		limit = 20
	}

	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]models.CommandLog, 0, limit)
		for i := len(s.commands) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, s.commands[i])
		}
		return out, nil
	}

	rows, err := pool.Query(ctx, `
		SELECT endpoint_key, command, success, response, error, donation_id, created_at
		FROM rcon_commands ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var out []models.CommandLog
	for rows.Next() {
		var entry models.CommandLog
		if err := rows.Scan(&entry.EndpointKey, &entry.Command, &entry.Success, &entry.Response,
			&entry.Error, &entry.DonationID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

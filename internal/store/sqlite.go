package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hedge_positions (
		id TEXT PRIMARY KEY,
		underlying TEXT NOT NULL,
		template TEXT NOT NULL,
		is_spread INTEGER NOT NULL DEFAULT 0,
		legs TEXT NOT NULL,
		expiration DATETIME NOT NULL,
		contracts INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		entry_delta REAL NOT NULL,
		entry_extrinsic REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		state TEXT NOT NULL,
		roll_state TEXT NOT NULL,
		rolled_from TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_positions_underlying ON hedge_positions(underlying, state);

	-- Append-only premium ledger; amounts stored as exact decimal text
	CREATE TABLE IF NOT EXISTS premium_spend (
		id TEXT PRIMARY KEY,
		hedge_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_spend_timestamp ON premium_spend(timestamp);

	-- Single-row safety gate
	CREATE TABLE IF NOT EXISTS safety_gate (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		active INTEGER NOT NULL,
		reason TEXT,
		set_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS roll_triggers (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		underlying TEXT NOT NULL,
		template TEXT NOT NULL,
		reason TEXT NOT NULL,
		detail TEXT,
		fired_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignment_events (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		underlying TEXT NOT NULL,
		short_delta REAL NOT NULL,
		band TEXT NOT NULL,
		previous_band TEXT NOT NULL,
		action TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		detail TEXT,
		detected_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unwinds (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL,
		reason TEXT,
		initiated_at DATETIME NOT NULL,
		completed_at DATETIME,
		positions_seen INTEGER NOT NULL DEFAULT 0,
		closed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS discrepancies (
		id TEXT PRIMARY KEY,
		unwind_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		expected TEXT,
		reported TEXT,
		found_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cycle_invocations (
		correlation_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		seen_at DATETIME NOT NULL,
		PRIMARY KEY (correlation_id, kind)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePosition inserts a new hedge position.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *models.HedgePosition) error {
	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("marshaling legs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hedge_positions
		(id, underlying, template, is_spread, legs, expiration, contracts,
		 entry_price, entry_delta, entry_extrinsic, entry_time, state, roll_state, rolled_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Underlying, string(p.Template), boolToInt(p.IsSpread), string(legs),
		p.Expiration, p.Contracts, p.EntryPrice, p.EntryDelta, p.EntryExtrinsic,
		p.EntryTime, string(p.State), string(p.RollState), p.RolledFrom)
	if err != nil {
		return fmt.Errorf("saving position: %w", err)
	}
	return nil
}

// UpdatePosition updates an existing hedge position.
func (s *SQLiteStore) UpdatePosition(ctx context.Context, p *models.HedgePosition) error {
	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("marshaling legs: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE hedge_positions
		SET legs = ?, contracts = ?, state = ?, roll_state = ?, rolled_from = ?
		WHERE id = ?`,
		string(legs), p.Contracts, string(p.State), string(p.RollState), p.RolledFrom, p.ID)
	if err != nil {
		return fmt.Errorf("updating position: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("position %s not found", p.ID)
	}
	return nil
}

// GetPosition fetches a hedge position by id.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*models.HedgePosition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, underlying, template, is_spread, legs, expiration, contracts,
		       entry_price, entry_delta, entry_extrinsic, entry_time, state, roll_state, rolled_from
		FROM hedge_positions WHERE id = ?`, id)
	return scanPosition(row)
}

// ListPositions returns positions matching the filter.
func (s *SQLiteStore) ListPositions(ctx context.Context, filter PositionFilter) ([]models.HedgePosition, error) {
	query := `
		SELECT id, underlying, template, is_spread, legs, expiration, contracts,
		       entry_price, entry_delta, entry_extrinsic, entry_time, state, roll_state, rolled_from
		FROM hedge_positions WHERE 1=1`
	var args []interface{}

	if filter.Underlying != "" {
		query += " AND underlying = ?"
		args = append(args, filter.Underlying)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	if filter.Template != "" {
		query += " AND template = ?"
		args = append(args, string(filter.Template))
	}
	if filter.SpreadOnly {
		query += " AND is_spread = 1"
	}
	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	defer rows.Close()

	var positions []models.HedgePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.HedgePosition, error) {
	var p models.HedgePosition
	var template, state, rollState string
	var isSpread int
	var legs string
	var rolledFrom sql.NullString

	err := row.Scan(&p.ID, &p.Underlying, &template, &isSpread, &legs, &p.Expiration,
		&p.Contracts, &p.EntryPrice, &p.EntryDelta, &p.EntryExtrinsic, &p.EntryTime,
		&state, &rollState, &rolledFrom)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("position not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning position: %w", err)
	}

	p.Template = models.HedgeTemplate(template)
	p.State = models.PositionState(state)
	p.RollState = models.RollState(rollState)
	p.IsSpread = isSpread == 1
	p.RolledFrom = rolledFrom.String
	if err := json.Unmarshal([]byte(legs), &p.Legs); err != nil {
		return nil, fmt.Errorf("unmarshaling legs: %w", err)
	}
	return &p, nil
}

// AppendSpend writes one ledger entry. Entries are never updated.
func (s *SQLiteStore) AppendSpend(ctx context.Context, r *models.PremiumSpendRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO premium_spend (id, hedge_id, amount, description, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.HedgeID, r.Amount.String(), r.Description, r.Timestamp)
	if err != nil {
		return fmt.Errorf("appending spend: %w", err)
	}
	return nil
}

// SumSpendSince sums ledger amounts with timestamp >= since. Summed in Go
// over exact decimal text rather than REAL affinity.
func (s *SQLiteStore) SumSpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM premium_spend WHERE timestamp >= ?`, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing spend: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing ledger amount %q: %w", amount, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// ListSpendSince returns ledger entries with timestamp >= since.
func (s *SQLiteStore) ListSpendSince(ctx context.Context, since time.Time) ([]models.PremiumSpendRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hedge_id, amount, description, timestamp
		FROM premium_spend WHERE timestamp >= ? ORDER BY timestamp`, since)
	if err != nil {
		return nil, fmt.Errorf("listing spend: %w", err)
	}
	defer rows.Close()

	var records []models.PremiumSpendRecord
	for rows.Next() {
		var r models.PremiumSpendRecord
		var amount string
		if err := rows.Scan(&r.ID, &r.HedgeID, &amount, &r.Description, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing ledger amount %q: %w", amount, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteSpendBefore expires ledger entries older than the cutoff.
func (s *SQLiteStore) DeleteSpendBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM premium_spend WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring spend: %w", err)
	}
	return result.RowsAffected()
}

// GetSafetyGate reads the gate row. A missing row is an inactive gate.
func (s *SQLiteStore) GetSafetyGate(ctx context.Context) (*models.SafetyGate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT active, reason, set_at FROM safety_gate WHERE id = 1`)

	var gate models.SafetyGate
	var active int
	var reason sql.NullString
	var setAt sql.NullTime
	err := row.Scan(&active, &reason, &setAt)
	if err == sql.ErrNoRows {
		return &models.SafetyGate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading safety gate: %w", err)
	}
	gate.Active = active == 1
	gate.Reason = reason.String
	gate.SetAt = setAt.Time
	return &gate, nil
}

// SetSafetyGate writes the gate row.
func (s *SQLiteStore) SetSafetyGate(ctx context.Context, gate *models.SafetyGate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO safety_gate (id, active, reason, set_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active = excluded.active,
			reason = excluded.reason, set_at = excluded.set_at`,
		boolToInt(gate.Active), gate.Reason, gate.SetAt)
	if err != nil {
		return fmt.Errorf("writing safety gate: %w", err)
	}
	return nil
}

// SaveRollTrigger persists a roll trigger record.
func (s *SQLiteStore) SaveRollTrigger(ctx context.Context, r *models.RollTriggerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roll_triggers (id, position_id, underlying, template, reason, detail, fired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PositionID, r.Underlying, string(r.Template), string(r.Reason), r.Detail, r.FiredAt)
	if err != nil {
		return fmt.Errorf("saving roll trigger: %w", err)
	}
	return nil
}

// SaveAssignment persists an assignment detection record.
func (s *SQLiteStore) SaveAssignment(ctx context.Context, r *models.AssignmentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignment_events
		(id, position_id, underlying, short_delta, band, previous_band, action, resolved, detail, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PositionID, r.Underlying, r.ShortDelta, string(r.Band), string(r.PreviousBand),
		string(r.Action), boolToInt(r.Resolved), r.Detail, r.DetectedAt)
	if err != nil {
		return fmt.Errorf("saving assignment event: %w", err)
	}
	return nil
}

// SaveUnwind persists an unwind record, inserting or updating by id.
func (s *SQLiteStore) SaveUnwind(ctx context.Context, r *models.UnwindRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unwinds (id, severity, reason, initiated_at, completed_at, positions_seen, closed, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET completed_at = excluded.completed_at,
			positions_seen = excluded.positions_seen,
			closed = excluded.closed, failed = excluded.failed`,
		r.ID, string(r.Severity), r.Reason, r.InitiatedAt, r.CompletedAt,
		r.PositionsSeen, r.Closed, r.Failed)
	if err != nil {
		return fmt.Errorf("saving unwind: %w", err)
	}
	return nil
}

// SaveDiscrepancy persists a reconciliation discrepancy.
func (s *SQLiteStore) SaveDiscrepancy(ctx context.Context, d *models.ReconciliationDiscrepancy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discrepancies (id, unwind_id, position_id, expected, reported, found_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.UnwindID, d.PositionID, d.Expected, d.Reported, d.FoundAt)
	if err != nil {
		return fmt.Errorf("saving discrepancy: %w", err)
	}
	return nil
}

// ListDiscrepancies returns discrepancies for an unwind, or all when the
// unwind id is empty.
func (s *SQLiteStore) ListDiscrepancies(ctx context.Context, unwindID string) ([]models.ReconciliationDiscrepancy, error) {
	query := `SELECT id, unwind_id, position_id, expected, reported, found_at FROM discrepancies`
	var args []interface{}
	if unwindID != "" {
		query += " WHERE unwind_id = ?"
		args = append(args, unwindID)
	}
	query += " ORDER BY found_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing discrepancies: %w", err)
	}
	defer rows.Close()

	var out []models.ReconciliationDiscrepancy
	for rows.Next() {
		var d models.ReconciliationDiscrepancy
		if err := rows.Scan(&d.ID, &d.UnwindID, &d.PositionID, &d.Expected, &d.Reported, &d.FoundAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkInvocation records a correlation id, returning false when the id was
// already processed for this kind of cycle.
func (s *SQLiteStore) MarkInvocation(ctx context.Context, correlationID, kind string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cycle_invocations (correlation_id, kind, seen_at)
		VALUES (?, ?, ?)`, correlationID, kind, at)
	if err != nil {
		return false, fmt.Errorf("marking invocation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

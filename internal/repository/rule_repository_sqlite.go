package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
)

// sqliteTime is fixed width so text comparison orders correctly.
const sqliteTime = "2006-01-02 15:04:05.000000"

// SQLiteRuleRepository stores rules and triggers in a local SQLite file.
type SQLiteRuleRepository struct {
	db *sql.DB
}

var _ repository.RuleRepository = (*SQLiteRuleRepository)(nil)

// NewSQLiteRuleRepository opens (or creates) the database at path and migrates it.
func NewSQLiteRuleRepository(path string) (*SQLiteRuleRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; this also keeps a ":memory:" database alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	r := &SQLiteRuleRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRuleRepository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id                 INTEGER NOT NULL DEFAULT 0,
			symbol                  TEXT NOT NULL,
			condition_type          TEXT NOT NULL,
			target_price            TEXT NOT NULL,
			alert_type              TEXT NOT NULL DEFAULT 'one_shot',
			cooldown_minutes        INTEGER NOT NULL DEFAULT 0,
			data_source             TEXT NOT NULL DEFAULT 'tick',
			column_name             TEXT NOT NULL DEFAULT 'price',
			ohlcv_timeframe_minutes INTEGER NOT NULL DEFAULT 1,
			is_active               INTEGER NOT NULL DEFAULT 1,
			created_at              TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
			updated_at              TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_rules_symbol_active ON alert_rules(symbol, is_active)`,

		`CREATE TABLE IF NOT EXISTS alert_triggers (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_rule_id   INTEGER NOT NULL REFERENCES alert_rules(id),
			triggered_price TEXT NOT NULL,
			triggered_at    TEXT NOT NULL,
			email_sent      INTEGER NOT NULL DEFAULT 0,
			email_sent_at   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_triggers_rule_at ON alert_triggers(alert_rule_id, triggered_at)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// AddRule inserts a rule and returns it with its id.
func (r *SQLiteRuleRepository) AddRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO alert_rules
        (user_id, symbol, condition_type, target_price, alert_type, cooldown_minutes,
         data_source, column_name, ohlcv_timeframe_minutes, is_active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, ruleArgs(rule)...)
	if err != nil {
		return models.Rule{}, fmt.Errorf("insert rule: %w", errors.Join(models.ErrPersistence, err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Rule{}, fmt.Errorf("rule id: %w", err)
	}
	rule.ID = id
	return rule, nil
}

func (r *SQLiteRuleRepository) ListActiveRules(ctx context.Context, symbol string) ([]models.Rule, error) {
	q := fmt.Sprintf("SELECT "+ruleColumnsFmt+" FROM alert_rules WHERE symbol = ? AND is_active = 1 ORDER BY id", "target_price")
	rows, err := r.db.QueryContext(ctx, q, symbol)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", errors.Join(models.ErrPersistence, err))
	}
	defer rows.Close()

	out := make([]models.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *SQLiteRuleRepository) LastTrigger(ctx context.Context, ruleID int64) (*models.Trigger, error) {
	q := fmt.Sprintf("SELECT "+triggerColumnsFmt+" FROM alert_triggers WHERE alert_rule_id = ? ORDER BY triggered_at DESC, id DESC LIMIT 1", "triggered_price")
	t, err := scanSQLiteTrigger(r.db.QueryRowContext(ctx, q, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last trigger: %w", errors.Join(models.ErrPersistence, err))
	}
	return &t, nil
}

// CreateTrigger inserts the trigger and, for one-shot rules, flips is_active in the same transaction.
func (r *SQLiteRuleRepository) CreateTrigger(ctx context.Context, ruleID int64, value decimal.Decimal, at time.Time, deactivate bool) (*models.Trigger, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", errors.Join(models.ErrPersistence, err))
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(sqliteTime)
	if deactivate {
		res, err := tx.ExecContext(ctx, "UPDATE alert_rules SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1", now, ruleID)
		if err != nil {
			return nil, fmt.Errorf("deactivate rule: %w", errors.Join(models.ErrPersistence, err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, r.missingOrInactive(ctx, tx, ruleID)
		}
	} else {
		var one int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM alert_rules WHERE id = ?", ruleID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
			}
			return nil, fmt.Errorf("lookup rule: %w", errors.Join(models.ErrPersistence, err))
		}
	}

	price := models.RoundPrice(value)
	at = at.UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO alert_triggers (alert_rule_id, triggered_price, triggered_at, email_sent) VALUES (?, ?, ?, 0)",
		ruleID, price.StringFixed(models.PriceScale), at.Format(sqliteTime))
	if err != nil {
		return nil, fmt.Errorf("insert trigger: %w", errors.Join(models.ErrPersistence, err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("trigger id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", errors.Join(models.ErrPersistence, err))
	}
	return &models.Trigger{ID: id, RuleID: ruleID, Value: price, TriggeredAt: at}, nil
}

func (r *SQLiteRuleRepository) missingOrInactive(ctx context.Context, tx *sql.Tx, ruleID int64) error {
	var active bool
	err := tx.QueryRowContext(ctx, "SELECT is_active FROM alert_rules WHERE id = ?", ruleID).Scan(&active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	case err != nil:
		return fmt.Errorf("lookup rule: %w", errors.Join(models.ErrPersistence, err))
	default:
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrRuleInactive)
	}
}

// MarkNotified sets email_sent once; repeated calls keep the first timestamp.
func (r *SQLiteRuleRepository) MarkNotified(ctx context.Context, triggerID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE alert_triggers SET email_sent = 1, email_sent_at = ? WHERE id = ? AND email_sent = 0",
		at.UTC().Format(sqliteTime), triggerID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", errors.Join(models.ErrPersistence, err))
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1 FROM alert_triggers WHERE id = ?", triggerID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("trigger %d: %w", triggerID, models.ErrNotFound)
		}
		return fmt.Errorf("lookup trigger: %w", errors.Join(models.ErrPersistence, err))
	}
	return nil
}

func (r *SQLiteRuleRepository) DeactivateRule(ctx context.Context, ruleID int64) error {
	res, err := r.db.ExecContext(ctx, "UPDATE alert_rules SET is_active = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(sqliteTime), ruleID)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", errors.Join(models.ErrPersistence, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRuleRepository) ListTriggers(ctx context.Context, ruleID int64, limit int) ([]models.Trigger, error) {
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1 FROM alert_rules WHERE id = ?", ruleID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup rule: %w", errors.Join(models.ErrPersistence, err))
	}
	if limit <= 0 {
		limit = -1
	}

	q := fmt.Sprintf("SELECT "+triggerColumnsFmt+" FROM alert_triggers WHERE alert_rule_id = ? ORDER BY triggered_at DESC, id DESC LIMIT ?", "triggered_price")
	rows, err := r.db.QueryContext(ctx, q, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", errors.Join(models.ErrPersistence, err))
	}
	defer rows.Close()

	out := make([]models.Trigger, 0)
	for rows.Next() {
		t, err := scanSQLiteTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRuleRepository) Close() error {
	return r.db.Close()
}

func scanSQLiteTrigger(s rowScanner) (models.Trigger, error) {
	var (
		id, ruleID    int64
		price, atText string
		sent          bool
		sentText      sql.NullString
	)
	if err := s.Scan(&id, &ruleID, &price, &atText, &sent, &sentText); err != nil {
		return models.Trigger{}, err
	}
	at, err := time.ParseInLocation(sqliteTime, atText, time.UTC)
	if err != nil {
		return models.Trigger{}, fmt.Errorf("trigger %d: triggered_at: %w", id, err)
	}
	var sentAt *time.Time
	if sentText.Valid {
		ts, err := time.ParseInLocation(sqliteTime, sentText.String, time.UTC)
		if err != nil {
			return models.Trigger{}, fmt.Errorf("trigger %d: email_sent_at: %w", id, err)
		}
		sentAt = &ts
	}
	return newTrigger(id, ruleID, price, at, sent, sentAt)
}

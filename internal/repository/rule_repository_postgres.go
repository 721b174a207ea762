package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_rules (
		id                      BIGSERIAL PRIMARY KEY,
		user_id                 BIGINT NOT NULL DEFAULT 0,
		symbol                  VARCHAR(50) NOT NULL,
		condition_type          VARCHAR(10) NOT NULL,
		target_price            NUMERIC(10, 2) NOT NULL,
		alert_type              VARCHAR(20) NOT NULL DEFAULT 'one_shot',
		cooldown_minutes        INTEGER NOT NULL DEFAULT 0,
		data_source             VARCHAR(20) NOT NULL DEFAULT 'tick',
		column_name             VARCHAR(20) NOT NULL DEFAULT 'price',
		ohlcv_timeframe_minutes INTEGER NOT NULL DEFAULT 1,
		is_active               BOOLEAN NOT NULL DEFAULT TRUE,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_rules_symbol_active ON alert_rules(symbol, is_active)`,
	`CREATE TABLE IF NOT EXISTS alert_triggers (
		id              BIGSERIAL PRIMARY KEY,
		alert_rule_id   BIGINT NOT NULL REFERENCES alert_rules(id),
		triggered_price NUMERIC(10, 2) NOT NULL,
		triggered_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		email_sent      BOOLEAN NOT NULL DEFAULT FALSE,
		email_sent_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_triggers_rule_at ON alert_triggers(alert_rule_id, triggered_at DESC)`,
}

// PostgresRuleRepository is the shared rule store for multi-instance deployments.
type PostgresRuleRepository struct {
	pool *pgxpool.Pool
}

var _ repository.RuleRepository = (*PostgresRuleRepository)(nil)

// NewPostgresRuleRepository connects to dsn and migrates the schema.
func NewPostgresRuleRepository(ctx context.Context, dsn string, maxConns int32) (*PostgresRuleRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	r := &PostgresRuleRepository{pool: pool}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return r, nil
}

// AddRule inserts a rule and returns it with its id.
func (r *PostgresRuleRepository) AddRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO alert_rules
        (user_id, symbol, condition_type, target_price, alert_type, cooldown_minutes,
         data_source, column_name, ohlcv_timeframe_minutes, is_active)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10) RETURNING id`, ruleArgs(rule)...).Scan(&rule.ID)
	if err != nil {
		return models.Rule{}, fmt.Errorf("insert rule: %w", errors.Join(models.ErrPersistence, err))
	}
	return rule, nil
}

func (r *PostgresRuleRepository) ListActiveRules(ctx context.Context, symbol string) ([]models.Rule, error) {
	q := fmt.Sprintf("SELECT "+ruleColumnsFmt+" FROM alert_rules WHERE symbol = $1 AND is_active ORDER BY id", "target_price::text")
	rows, err := r.pool.Query(ctx, q, symbol)
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

func (r *PostgresRuleRepository) LastTrigger(ctx context.Context, ruleID int64) (*models.Trigger, error) {
	q := fmt.Sprintf("SELECT "+triggerColumnsFmt+" FROM alert_triggers WHERE alert_rule_id = $1 ORDER BY triggered_at DESC, id DESC LIMIT 1", "triggered_price::text")
	t, err := scanPostgresTrigger(r.pool.QueryRow(ctx, q, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last trigger: %w", errors.Join(models.ErrPersistence, err))
	}
	return &t, nil
}

// CreateTrigger uses a conditional UPDATE inside the transaction; no row lock is taken for recurring rules.
func (r *PostgresRuleRepository) CreateTrigger(ctx context.Context, ruleID int64, value decimal.Decimal, at time.Time, deactivate bool) (*models.Trigger, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", errors.Join(models.ErrPersistence, err))
	}
	defer tx.Rollback(ctx)

	if deactivate {
		tag, err := tx.Exec(ctx, "UPDATE alert_rules SET is_active = FALSE, updated_at = now() WHERE id = $1 AND is_active", ruleID)
		if err != nil {
			return nil, fmt.Errorf("deactivate rule: %w", errors.Join(models.ErrPersistence, err))
		}
		if tag.RowsAffected() == 0 {
			return nil, r.missingOrInactive(ctx, tx, ruleID)
		}
	} else {
		var one int
		if err := tx.QueryRow(ctx, "SELECT 1 FROM alert_rules WHERE id = $1", ruleID).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
			}
			return nil, fmt.Errorf("lookup rule: %w", errors.Join(models.ErrPersistence, err))
		}
	}

	price := models.RoundPrice(value)
	at = at.UTC()
	var id int64
	if err := tx.QueryRow(ctx,
		"INSERT INTO alert_triggers (alert_rule_id, triggered_price, triggered_at) VALUES ($1, $2::numeric, $3) RETURNING id",
		ruleID, price.StringFixed(models.PriceScale), at).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert trigger: %w", errors.Join(models.ErrPersistence, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", errors.Join(models.ErrPersistence, err))
	}
	return &models.Trigger{ID: id, RuleID: ruleID, Value: price, TriggeredAt: at}, nil
}

func (r *PostgresRuleRepository) missingOrInactive(ctx context.Context, tx pgx.Tx, ruleID int64) error {
	var active bool
	err := tx.QueryRow(ctx, "SELECT is_active FROM alert_rules WHERE id = $1", ruleID).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	case err != nil:
		return fmt.Errorf("lookup rule: %w", errors.Join(models.ErrPersistence, err))
	default:
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrRuleInactive)
	}
}

func (r *PostgresRuleRepository) MarkNotified(ctx context.Context, triggerID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE alert_triggers SET email_sent = TRUE, email_sent_at = $1 WHERE id = $2 AND NOT email_sent",
		at.UTC(), triggerID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", errors.Join(models.ErrPersistence, err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	if err := r.pool.QueryRow(ctx, "SELECT 1 FROM alert_triggers WHERE id = $1", triggerID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("trigger %d: %w", triggerID, models.ErrNotFound)
		}
		return fmt.Errorf("lookup trigger: %w", errors.Join(models.ErrPersistence, err))
	}
	return nil
}

func (r *PostgresRuleRepository) DeactivateRule(ctx context.Context, ruleID int64) error {
	tag, err := r.pool.Exec(ctx, "UPDATE alert_rules SET is_active = FALSE, updated_at = now() WHERE id = $1", ruleID)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", errors.Join(models.ErrPersistence, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	}
	return nil
}

func (r *PostgresRuleRepository) ListTriggers(ctx context.Context, ruleID int64, limit int) ([]models.Trigger, error) {
	var one int
	if err := r.pool.QueryRow(ctx, "SELECT 1 FROM alert_rules WHERE id = $1", ruleID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup rule: %w", errors.Join(models.ErrPersistence, err))
	}

	q := fmt.Sprintf("SELECT "+triggerColumnsFmt+" FROM alert_triggers WHERE alert_rule_id = $1 ORDER BY triggered_at DESC, id DESC", "triggered_price::text")
	args := []any{ruleID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", errors.Join(models.ErrPersistence, err))
	}
	defer rows.Close()

	out := make([]models.Trigger, 0)
	for rows.Next() {
		t, err := scanPostgresTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRuleRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanPostgresTrigger(s rowScanner) (models.Trigger, error) {
	var (
		id, ruleID int64
		price      string
		at         time.Time
		sent       bool
		sentAt     *time.Time
	)
	if err := s.Scan(&id, &ruleID, &price, &at, &sent, &sentAt); err != nil {
		return models.Trigger{}, err
	}
	return newTrigger(id, ruleID, price, at, sent, sentAt)
}

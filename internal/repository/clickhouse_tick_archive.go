package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	pkgch "github.com/vijayshreepathak/QuantAlert/pkg/clickhouse"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// ArchiveSchema returns the DDL for the tick archive in database db.
func ArchiveSchema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ticks (
    ts DateTime64(3, 'UTC'),
    symbol LowCardinality(String),
    price Decimal(18, 2),
    volume Int64,
    source LowCardinality(String)
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (symbol, ts)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ohlcv_1m (
    bucket DateTime('UTC'),
    symbol LowCardinality(String),
    open Decimal(18, 2),
    high Decimal(18, 2),
    low Decimal(18, 2),
    close Decimal(18, 2),
    volume Int64,
    ticks UInt32
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(bucket)
ORDER BY (symbol, bucket)`, db),
	}
}

// ClickHouseTickArchive stores the tick log and closed minute buckets.
type ClickHouseTickArchive struct {
	db        *sql.DB
	ticks     string
	candles   string
	chunkSize int
	lgr       *logger.Logger
}

var _ repository.TickArchive = (*ClickHouseTickArchive)(nil)

// NewClickHouseTickArchive creates the archive on top of an open client.
func NewClickHouseTickArchive(ch *pkgch.Client, lgr *logger.Logger) *ClickHouseTickArchive {
	return &ClickHouseTickArchive{
		db:        ch.DB(),
		ticks:     ch.Database() + ".ticks",
		candles:   ch.Database() + ".ohlcv_1m",
		chunkSize: 2000,
		lgr:       lgr,
	}
}

// StoreBatch inserts ticks with multi-row VALUES, chunkSize rows per statement.
func (s *ClickHouseTickArchive) StoreBatch(ctx context.Context, ticks []*models.Tick) error {
	for start := 0; start < len(ticks); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(ticks) {
			end = len(ticks)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, t := range ticks[start:end] {
			if t == nil || t.Symbol == "" || t.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, t.Timestamp.UTC(), t.Symbol, t.Price.StringFixed(models.PriceScale), t.Volume, t.Source)
		}
		if len(values) == 0 {
			continue
		}

		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume, source) VALUES %s", s.ticks, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.lgr.Error("clickhouse insert ticks",
				logger.String("table", s.ticks),
				logger.Int("rows", len(values)),
				logger.Error(err))
			return fmt.Errorf("insert ticks: %w", err)
		}
	}
	return nil
}

// StoreCandles upserts closed buckets; ReplacingMergeTree keeps the latest row per (symbol, bucket).
func (s *ClickHouseTickArchive) StoreCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	values := make([]string, 0, len(candles))
	args := make([]interface{}, 0, len(candles)*8)
	for _, c := range candles {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			c.Bucket.UTC(),
			c.Symbol,
			c.Open.StringFixed(models.PriceScale),
			c.High.StringFixed(models.PriceScale),
			c.Low.StringFixed(models.PriceScale),
			c.Close.StringFixed(models.PriceScale),
			c.Volume,
			uint32(c.Ticks),
		)
	}

	q := fmt.Sprintf("INSERT INTO %s (bucket, symbol, open, high, low, close, volume, ticks) VALUES %s", s.candles, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.lgr.Error("clickhouse insert candles",
			logger.String("table", s.candles),
			logger.Int("rows", len(candles)),
			logger.Error(err))
		return fmt.Errorf("insert candles: %w", err)
	}
	return nil
}

// QueryCandles reads archived buckets for symbol in [from, to], oldest first.
func (s *ClickHouseTickArchive) QueryCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	q := fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, volume, ticks
        FROM %s FINAL
        WHERE symbol = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC`, s.candles)
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 64)
	for rows.Next() {
		var (
			c     models.Candle
			ticks uint32
		)
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &ticks); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		c.Ticks = int(ticks)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *ClickHouseTickArchive) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to the client.
func (s *ClickHouseTickArchive) Close() error { return nil }

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/calderhq/tiergate/internal/pkg/xtime"
	"github.com/calderhq/tiergate/internal/safedoc"
)

// SQLiteStore is the TenantStore implementation backed by a single SQLite
// table. The JSON document is the source of truth; tier and expiry are
// mirrored into plain columns at write time so FindMany can filter without
// parsing documents.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the tenant database described by cfg.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	switch cfg.Dialect {
	case "", "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", cfg.Dialect)
	}

	if cfg.DSN == "" {
		return nil, errors.New("store dsn is required")
	}

	dsn := cfg.DSN
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}

		dsn += sep + url.Values{
			"_pragma": []string{
				"busy_timeout(30000)",
				"journal_mode(WAL)",
				"synchronous(NORMAL)",
			},
		}.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open tenant db: %w", err)
	}

	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent mutations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenant_records (
		tenant_id       TEXT PRIMARY KEY,
		doc             TEXT NOT NULL,
		tier            INTEGER NOT NULL DEFAULT 0,
		tier_expires_at INTEGER,
		version         INTEGER NOT NULL DEFAULT 1,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tenant_records_expiry
		ON tenant_records(tier_expires_at) WHERE tier_expires_at IS NOT NULL;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init tenant schema: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// FindOne returns the record for tenantID. A missing row is a successful
// result with an absent record.
func (s *SQLiteStore) FindOne(ctx context.Context, tenantID string) Result[Record] {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, doc, version FROM tenant_records WHERE tenant_id = ?`, tenantID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OK(AbsentRecord())
	}

	if err != nil {
		return Fail[Record](fmt.Errorf("find tenant %s: %w", tenantID, err))
	}

	return OK(record)
}

// FindMany returns every record matching q.
func (s *SQLiteStore) FindMany(ctx context.Context, q Query) Result[[]Record] {
	query := `SELECT tenant_id, doc, version FROM tenant_records WHERE 1=1`

	var args []any

	if q.MinTier > 0 {
		query += ` AND tier >= ?`

		args = append(args, q.MinTier)
	}

	if q.ExpiresBefore != nil {
		query += ` AND tier_expires_at IS NOT NULL AND tier_expires_at < ?`

		args = append(args, q.ExpiresBefore.UTC().Unix())
	}

	query += ` ORDER BY tenant_id`

	if q.Limit > 0 {
		query += ` LIMIT ?`

		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Fail[[]Record](fmt.Errorf("find tenants: %w", err))
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return Fail[[]Record](fmt.Errorf("scan tenant record: %w", err))
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return Fail[[]Record](fmt.Errorf("iterate tenant records: %w", err))
	}

	return OK(records)
}

// Upsert writes doc unconditionally, creating the row when absent and
// bumping the version when present.
func (s *SQLiteStore) Upsert(ctx context.Context, tenantID string, doc []byte) Result[Record] {
	tier, expiresAt := indexFields(doc)
	now := xtime.UTCNow().Unix()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_records (tenant_id, doc, tier, tier_expires_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			doc = excluded.doc,
			tier = excluded.tier,
			tier_expires_at = excluded.tier_expires_at,
			version = tenant_records.version + 1,
			updated_at = excluded.updated_at
		RETURNING tenant_id, doc, version`,
		tenantID, string(doc), tier, expiresAt, now, now)

	record, err := scanRecord(row)
	if err != nil {
		return Fail[Record](fmt.Errorf("upsert tenant %s: %w", tenantID, err))
	}

	return OK(record)
}

// ConditionalUpdate writes doc only when the stored version still matches
// expectedVersion; expectedVersion 0 inserts only when the row is absent.
// A condition miss is a successful result with an absent record.
func (s *SQLiteStore) ConditionalUpdate(ctx context.Context, tenantID string, expectedVersion int64, doc []byte) Result[Record] {
	tier, expiresAt := indexFields(doc)
	now := xtime.UTCNow().Unix()

	var row *sql.Row

	if expectedVersion == 0 {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO tenant_records (tenant_id, doc, tier, tier_expires_at, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(tenant_id) DO NOTHING
			RETURNING tenant_id, doc, version`,
			tenantID, string(doc), tier, expiresAt, now, now)
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE tenant_records SET
				doc = ?,
				tier = ?,
				tier_expires_at = ?,
				version = version + 1,
				updated_at = ?
			WHERE tenant_id = ? AND version = ?
			RETURNING tenant_id, doc, version`,
			string(doc), tier, expiresAt, now, tenantID, expectedVersion)
	}

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		// The condition did not hold: somebody else won the write.
		return OK(AbsentRecord())
	}

	if err != nil {
		return Fail[Record](fmt.Errorf("conditional update tenant %s: %w", tenantID, err))
	}

	return OK(record)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		tenantID string
		doc      string
		version  int64
	)

	if err := row.Scan(&tenantID, &doc, &version); err != nil {
		return Record{}, err
	}

	return Record{
		Document: safedoc.FromJSON([]byte(doc)),
		TenantID: tenantID,
		Version:  version,
	}, nil
}

// indexFields extracts the queryable columns from the document. An
// uncoercible tier indexes as 0; resolution applies the same fallback.
func indexFields(doc []byte) (int, *int64) {
	parsed := safedoc.FromJSON(doc)

	tier := parsed.GetInt("tier", 0)

	if expiresAt, ok := parsed.GetTime("tier_expires_at"); ok {
		unix := expiresAt.Unix()
		return tier, &unix
	}

	return tier, nil
}

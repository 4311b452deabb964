package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetroute/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every *.sql file in dir in lexical order. Statements must be idempotent.
func (p *Postgres) MigrateDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

const runColumns = `id::text, tenant_id, status, problem, result, COALESCE(error,''), COALESCE(callback_url,''), COALESCE(callback_secret,''), created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var r model.Run
	var problem, result []byte
	var started, finished sql.NullTime
	if err := row.Scan(&r.ID, &r.TenantID, &r.Status, &problem, &result, &r.Error, &r.CallbackURL, &r.CallbackSecret, &r.CreatedAt, &started, &finished); err != nil {
		return r, err
	}
	r.Problem = problem
	if len(result) > 0 {
		var res model.SolveResponse
		if err := json.Unmarshal(result, &res); err != nil {
			return r, fmt.Errorf("decode run result: %w", err)
		}
		r.Result = &res
	}
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

func (p *Postgres) CreateRun(ctx context.Context, tenantID string, problem []byte, callbackURL, callbackSecret string) (model.Run, error) {
	id := uuid.New()
	row := p.db.QueryRowContext(ctx, `INSERT INTO runs (id, tenant_id, status, problem, callback_url, callback_secret)
        VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+runColumns,
		id, tenantID, model.RunQueued, string(problem), nullIfEmpty(callbackURL), nullIfEmpty(callbackSecret))
	return scanRun(row)
}

func (p *Postgres) GetRun(ctx context.Context, tenantID, id string) (model.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Run{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, tenant_id, status, NULL::jsonb, result, COALESCE(error,''), COALESCE(callback_url,''), '', created_at, started_at, finished_at
        FROM runs WHERE tenant_id=$1 AND ($2='' OR status=$2)`
	args := []any{tenantID, status}
	if cursor != "" {
		if _, err := uuid.Parse(cursor); err != nil {
			return nil, "", fmt.Errorf("invalid cursor")
		}
		q += ` AND (created_at, id) > (SELECT created_at, id FROM runs WHERE id=$3)`
		args = append(args, cursor)
	}
	q += fmt.Sprintf(` ORDER BY created_at, id LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) ClaimQueuedRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := p.db.QueryContext(ctx, `UPDATE runs SET status='running', started_at=now()
        WHERE id IN (SELECT id FROM runs WHERE status='queued' ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED)
        RETURNING `+runColumns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *Postgres) CompleteRun(ctx context.Context, id string, result model.SolveResponse) error {
	js, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, result=$3, error=NULL, finished_at=now() WHERE id=$1`, id, model.RunSucceeded, string(js))
	return affected(res, err)
}

func (p *Postgres) FailRun(ctx context.Context, id, message string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, error=$3, finished_at=now() WHERE id=$1`, id, model.RunFailed, message)
	return affected(res, err)
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveRunMetrics(ctx context.Context, m model.RunMetrics) error {
	js, err := json.Marshal(m.Metrics)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO run_metrics (id, tenant_id, run_id, status, nodes, vehicles, metrics)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (tenant_id, run_id) DO UPDATE SET status=$4, nodes=$5, vehicles=$6, metrics=$7, recorded_at=now()`,
		uuid.New(), m.TenantID, m.RunID, m.Status, m.Nodes, m.Vehicles, string(js))
	return err
}

func (p *Postgres) ListRunMetrics(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.RunMetrics, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT run_id, tenant_id, status, nodes, vehicles, metrics, recorded_at FROM run_metrics
        WHERE tenant_id=$1 AND recorded_at >= $2 ORDER BY recorded_at DESC LIMIT $3`, tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RunMetrics{}
	for rows.Next() {
		var m model.RunMetrics
		var js []byte
		if err := rows.Scan(&m.RunID, &m.TenantID, &m.Status, &m.Nodes, &m.Vehicles, &js, &m.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(js, &m.Metrics); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSolverConfig(ctx context.Context, tenantID string) (model.SolveOptions, error) {
	var cfg model.SolveOptions
	var js []byte
	err := p.db.QueryRowContext(ctx, `SELECT config FROM solver_config WHERE tenant_id=$1`, tenantID).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(js, &cfg)
	return cfg, err
}

func (p *Postgres) SaveSolverConfig(ctx context.Context, tenantID string, cfg model.SolveOptions) error {
	js, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO solver_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, string(js))
	return err
}

func (p *Postgres) EnqueueCallback(ctx context.Context, tenantID, runID, eventType, url, secret string, payload []byte) (string, error) {
	dk := computeDedupKey(payload)
	var id string
	err := p.db.QueryRowContext(ctx, `INSERT INTO callback_deliveries (id, tenant_id, run_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING RETURNING id::text`,
		uuid.New(), tenantID, runID, eventType, url, nullIfEmpty(secret), string(payload), dk).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = p.db.QueryRowContext(ctx, `SELECT id::text FROM callback_deliveries WHERE tenant_id=$1 AND event_type=$2 AND url=$3 AND dedup_key=$4`,
			tenantID, eventType, url, dk).Scan(&id)
	}
	return id, err
}

const deliveryColumns = `id::text, tenant_id, run_id, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at`

func scanDelivery(row rowScanner) (CallbackDelivery, error) {
	var d CallbackDelivery
	var delivered sql.NullTime
	err := row.Scan(&d.ID, &d.TenantID, &d.RunID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered)
	if delivered.Valid {
		d.DeliveredAt = &delivered.Time
	}
	return d, err
}

func (p *Postgres) FetchDueCallbacks(ctx context.Context, limit int) ([]CallbackDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+`
        FROM callback_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CallbackDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkCallback(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		res, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return affected(res, err)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs)
	return affected(res, err)
}

func (p *Postgres) FailCallback(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	res, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return affected(res, err)
}

func (p *Postgres) ListCallbacks(ctx context.Context, tenantID, status, cursor string, limit int) ([]CallbackDelivery, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + deliveryColumns + ` FROM callback_deliveries WHERE tenant_id=$1 AND ($2='' OR status=$2)`
	args := []any{tenantID, status}
	if cursor != "" {
		q += ` AND id::text > $3`
		args = append(args, cursor)
	}
	q += fmt.Sprintf(` ORDER BY id LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []CallbackDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) RetryCallback(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE callback_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
	return affected(res, err)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

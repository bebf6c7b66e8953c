package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ribera-group/coordina-cli/internal/db"
	"github.com/ribera-group/coordina-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"list_people":    `SELECT worker_id, full_name, surname1, surname2, dni FROM people WHERE platform = $1 AND company = $2 ORDER BY worker_id`,
	"list_documents": `SELECT doc_id, type_id, subject_key, period_key, issue_date, valid_from, valid_until FROM documents WHERE platform = $1 AND company = $2 ORDER BY doc_id`,
	"insert_plan":    `INSERT INTO plans (id, platform, company, decision, confirm_token, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_plan":       `SELECT payload FROM plans WHERE id = $1`,
	"redeem_plan":    `UPDATE plans SET redeemed_at = $1 WHERE id = $2 AND confirm_token = $3 AND redeemed_at IS NULL AND created_at > $4`,
	"get_plan_job":   `SELECT job_id, run_id FROM plans WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS people (
	platform   TEXT NOT NULL,
	company    TEXT NOT NULL,
	worker_id  TEXT NOT NULL,
	full_name  TEXT NOT NULL,
	surname1   TEXT NOT NULL DEFAULT '',
	surname2   TEXT NOT NULL DEFAULT '',
	dni        TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, company, worker_id)
);

CREATE TABLE IF NOT EXISTS documents (
	platform    TEXT NOT NULL,
	company     TEXT NOT NULL,
	doc_id      TEXT NOT NULL,
	type_id     TEXT NOT NULL,
	subject_key TEXT NOT NULL,
	period_key  TEXT NOT NULL DEFAULT '',
	issue_date  TIMESTAMPTZ,
	valid_from  TIMESTAMPTZ,
	valid_until TIMESTAMPTZ,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, company, doc_id)
);

CREATE TABLE IF NOT EXISTS plans (
	id            TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	company       TEXT NOT NULL,
	decision      TEXT NOT NULL,
	confirm_token TEXT NOT NULL,
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	redeemed_at   TIMESTAMPTZ,
	job_id        TEXT,
	run_id        TEXT
);

CREATE INDEX IF NOT EXISTS idx_documents_subject ON documents(platform, company, subject_key);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(platform, company, type_id);
CREATE INDEX IF NOT EXISTS idx_plans_company ON plans(platform, company, created_at);
CREATE INDEX IF NOT EXISTS idx_plans_job ON plans(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertPeople(ctx context.Context, coord model.CoordContext, people []model.PersonIdentity) (int, error) {
	if err := requireCoord(coord); err != nil {
		return 0, err
	}
	if len(people) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(people))
	for _, p := range people {
		if strings.TrimSpace(p.WorkerID) == "" {
			return 0, eris.Errorf("postgres: person %q has no worker id", p.FullName)
		}
		rows = append(rows, []any{
			coord.Platform, coord.CoordinatedCompany, p.WorkerID,
			p.FullName, p.Surname1, p.Surname2, p.DNI, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "people",
		Columns:      []string{"platform", "company", "worker_id", "full_name", "surname1", "surname2", "dni", "updated_at"},
		ConflictKeys: []string{"platform", "company", "worker_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert people")
	}
	return int(n), nil
}

func (s *PostgresStore) ListPeople(ctx context.Context, coord model.CoordContext) ([]model.PersonIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT worker_id, full_name, surname1, surname2, dni FROM people
		 WHERE platform = $1 AND company = $2 ORDER BY worker_id`,
		coord.Platform, coord.CoordinatedCompany,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list people")
	}
	defer rows.Close()

	var people []model.PersonIdentity
	for rows.Next() {
		var p model.PersonIdentity
		if err := rows.Scan(&p.WorkerID, &p.FullName, &p.Surname1, &p.Surname2, &p.DNI); err != nil {
			return nil, eris.Wrap(err, "postgres: scan person")
		}
		people = append(people, p)
	}
	return people, eris.Wrap(rows.Err(), "postgres: iterate people")
}

func (s *PostgresStore) UpsertDocuments(ctx context.Context, coord model.CoordContext, docs []model.DocumentRecord) (int, error) {
	if err := requireCoord(coord); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.DocID) == "" {
			return 0, eris.New("postgres: document has no doc id")
		}
		rows = append(rows, []any{
			coord.Platform, coord.CoordinatedCompany, d.DocID, d.TypeID,
			d.SubjectKey, d.PeriodKey, d.IssueDate, d.ValidFrom, d.ValidUntil, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "documents",
		Columns:      []string{"platform", "company", "doc_id", "type_id", "subject_key", "period_key", "issue_date", "valid_from", "valid_until", "updated_at"},
		ConflictKeys: []string{"platform", "company", "doc_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert documents")
	}
	return int(n), nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, coord model.CoordContext) ([]model.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc_id, type_id, subject_key, period_key, issue_date, valid_from, valid_until FROM documents
		 WHERE platform = $1 AND company = $2 ORDER BY doc_id`,
		coord.Platform, coord.CoordinatedCompany,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.DocumentRecord
	for rows.Next() {
		var d model.DocumentRecord
		if err := rows.Scan(&d.DocID, &d.TypeID, &d.SubjectKey, &d.PeriodKey, &d.IssueDate, &d.ValidFrom, &d.ValidUntil); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (s *PostgresStore) SavePlan(ctx context.Context, coord model.CoordContext, plan *model.SubmissionPlan) error {
	if err := requireCoord(coord); err != nil {
		return err
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, platform, company, decision, confirm_token, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		plan.PlanID, coord.Platform, coord.CoordinatedCompany, string(plan.Decision),
		plan.ConfirmToken, payload, plan.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert plan %s", plan.PlanID)
	}
	return nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (*model.SubmissionPlan, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM plans WHERE id = $1`, planID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, planNotFound(planID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan %s", planID)
	}

	var plan model.SubmissionPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal plan %s", planID)
	}
	return &plan, nil
}

func (s *PostgresStore) ListPlans(ctx context.Context, filter PlanFilter) ([]model.SubmissionPlan, error) {
	query := `SELECT payload FROM plans WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Platform != "" {
		query += fmt.Sprintf(` AND platform = $%d`, argIdx)
		args = append(args, filter.Platform)
		argIdx++
	}
	if filter.Company != "" {
		query += fmt.Sprintf(` AND company = $%d`, argIdx)
		args = append(args, filter.Company)
		argIdx++
	}
	if filter.Decision != "" {
		query += fmt.Sprintf(` AND decision = $%d`, argIdx)
		args = append(args, string(filter.Decision))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list plans")
	}
	defer rows.Close()

	var plans []model.SubmissionPlan
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan plan")
		}
		var plan model.SubmissionPlan
		if err := json.Unmarshal(payload, &plan); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal plan")
		}
		plans = append(plans, plan)
	}
	return plans, eris.Wrap(rows.Err(), "postgres: iterate plans")
}

func (s *PostgresStore) RedeemPlanToken(ctx context.Context, planID, token string, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET redeemed_at = $1 WHERE id = $2 AND confirm_token = $3 AND redeemed_at IS NULL AND created_at > $4`,
		time.Now().UTC(), planID, token, cutoff,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: redeem plan %s", planID)
	}
	if tag.RowsAffected() == 1 {
		return false, nil
	}

	// Nothing redeemed; work out why.
	var dbToken string
	var redeemedAt *time.Time
	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT confirm_token, redeemed_at, created_at FROM plans WHERE id = $1`, planID,
	).Scan(&dbToken, &redeemedAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, planNotFound(planID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: load plan %s for redemption", planID)
	}

	if dbToken != token {
		return false, model.NewStructured(model.CodeInvalidChallenge,
			"confirmation token was not issued for this plan")
	}
	if redeemedAt != nil {
		return true, nil
	}
	return false, model.NewStructured(model.CodeInvalidChallenge,
		"confirmation token has expired").
		WithHint("rebuild the plan to obtain a fresh token")
}

func (s *PostgresStore) BindPlanJob(ctx context.Context, planID, jobID, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET job_id = $1, run_id = $2 WHERE id = $3 AND job_id IS NULL`,
		jobID, runID, planID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: bind plan %s to job", planID)
	}
	if tag.RowsAffected() == 0 {
		binding, gerr := s.GetPlanJob(ctx, planID)
		if gerr != nil {
			return gerr
		}
		if binding != nil {
			return eris.Errorf("plan %s is already bound to job %s", planID, binding.JobID)
		}
		return planNotFound(planID)
	}
	return nil
}

func (s *PostgresStore) GetPlanJob(ctx context.Context, planID string) (*PlanBinding, error) {
	var jobID, runID *string
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, run_id FROM plans WHERE id = $1`, planID,
	).Scan(&jobID, &runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, planNotFound(planID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan %s job", planID)
	}
	if jobID == nil || *jobID == "" {
		return nil, nil
	}
	binding := &PlanBinding{JobID: *jobID}
	if runID != nil {
		binding.RunID = *runID
	}
	return binding, nil
}

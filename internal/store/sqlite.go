package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ribera-group/coordina-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS people (
	platform   TEXT NOT NULL,
	company    TEXT NOT NULL,
	worker_id  TEXT NOT NULL,
	full_name  TEXT NOT NULL,
	surname1   TEXT NOT NULL DEFAULT '',
	surname2   TEXT NOT NULL DEFAULT '',
	dni        TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (platform, company, worker_id)
);

CREATE TABLE IF NOT EXISTS documents (
	platform    TEXT NOT NULL,
	company     TEXT NOT NULL,
	doc_id      TEXT NOT NULL,
	type_id     TEXT NOT NULL,
	subject_key TEXT NOT NULL,
	period_key  TEXT NOT NULL DEFAULT '',
	issue_date  DATETIME,
	valid_from  DATETIME,
	valid_until DATETIME,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (platform, company, doc_id)
);

CREATE TABLE IF NOT EXISTS plans (
	id            TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	company       TEXT NOT NULL,
	decision      TEXT NOT NULL,
	confirm_token TEXT NOT NULL,
	payload       TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	redeemed_at   DATETIME,
	job_id        TEXT,
	run_id        TEXT
);

CREATE INDEX IF NOT EXISTS idx_documents_subject ON documents(platform, company, subject_key);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(platform, company, type_id);
CREATE INDEX IF NOT EXISTS idx_plans_company ON plans(platform, company, created_at);
CREATE INDEX IF NOT EXISTS idx_plans_job ON plans(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertPeople(ctx context.Context, coord model.CoordContext, people []model.PersonIdentity) (int, error) {
	if err := requireCoord(coord); err != nil {
		return 0, err
	}
	if len(people) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin people upsert")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	count := 0
	for _, p := range people {
		if strings.TrimSpace(p.WorkerID) == "" {
			return 0, eris.Errorf("sqlite: person %q has no worker id", p.FullName)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO people (platform, company, worker_id, full_name, surname1, surname2, dni, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(platform, company, worker_id) DO UPDATE SET
			   full_name = excluded.full_name,
			   surname1 = excluded.surname1,
			   surname2 = excluded.surname2,
			   dni = excluded.dni,
			   updated_at = excluded.updated_at`,
			coord.Platform, coord.CoordinatedCompany, p.WorkerID, p.FullName, p.Surname1, p.Surname2, p.DNI, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert person %s", p.WorkerID)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit people upsert")
	}
	return count, nil
}

func (s *SQLiteStore) ListPeople(ctx context.Context, coord model.CoordContext) ([]model.PersonIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id, full_name, surname1, surname2, dni FROM people
		 WHERE platform = ? AND company = ? ORDER BY worker_id`,
		coord.Platform, coord.CoordinatedCompany,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list people")
	}
	defer rows.Close()

	var people []model.PersonIdentity
	for rows.Next() {
		var p model.PersonIdentity
		if err := rows.Scan(&p.WorkerID, &p.FullName, &p.Surname1, &p.Surname2, &p.DNI); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan person")
		}
		people = append(people, p)
	}
	return people, eris.Wrap(rows.Err(), "sqlite: iterate people")
}

func (s *SQLiteStore) UpsertDocuments(ctx context.Context, coord model.CoordContext, docs []model.DocumentRecord) (int, error) {
	if err := requireCoord(coord); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin document upsert")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	count := 0
	for _, d := range docs {
		if strings.TrimSpace(d.DocID) == "" {
			return 0, eris.New("sqlite: document has no doc id")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (platform, company, doc_id, type_id, subject_key, period_key, issue_date, valid_from, valid_until, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(platform, company, doc_id) DO UPDATE SET
			   type_id = excluded.type_id,
			   subject_key = excluded.subject_key,
			   period_key = excluded.period_key,
			   issue_date = excluded.issue_date,
			   valid_from = excluded.valid_from,
			   valid_until = excluded.valid_until,
			   updated_at = excluded.updated_at`,
			coord.Platform, coord.CoordinatedCompany, d.DocID, d.TypeID, d.SubjectKey, d.PeriodKey,
			d.IssueDate, d.ValidFrom, d.ValidUntil, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert document %s", d.DocID)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit document upsert")
	}
	return count, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, coord model.CoordContext) ([]model.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, type_id, subject_key, period_key, issue_date, valid_from, valid_until FROM documents
		 WHERE platform = ? AND company = ? ORDER BY doc_id`,
		coord.Platform, coord.CoordinatedCompany,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.DocumentRecord
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

func scanDocument(rows *sql.Rows) (model.DocumentRecord, error) {
	var d model.DocumentRecord
	var issue, from, until sql.NullTime
	if err := rows.Scan(&d.DocID, &d.TypeID, &d.SubjectKey, &d.PeriodKey, &issue, &from, &until); err != nil {
		return d, eris.Wrap(err, "sqlite: scan document")
	}
	if issue.Valid {
		t := issue.Time
		d.IssueDate = &t
	}
	if from.Valid {
		t := from.Time
		d.ValidFrom = &t
	}
	if until.Valid {
		t := until.Time
		d.ValidUntil = &t
	}
	return d, nil
}

func (s *SQLiteStore) SavePlan(ctx context.Context, coord model.CoordContext, plan *model.SubmissionPlan) error {
	if err := requireCoord(coord); err != nil {
		return err
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, platform, company, decision, confirm_token, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.PlanID, coord.Platform, coord.CoordinatedCompany, string(plan.Decision),
		plan.ConfirmToken, string(payload), plan.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert plan %s", plan.PlanID)
	}
	return nil
}

func (s *SQLiteStore) GetPlan(ctx context.Context, planID string) (*model.SubmissionPlan, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM plans WHERE id = ?`, planID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planNotFound(planID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan %s", planID)
	}

	var plan model.SubmissionPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal plan %s", planID)
	}
	return &plan, nil
}

func (s *SQLiteStore) ListPlans(ctx context.Context, filter PlanFilter) ([]model.SubmissionPlan, error) {
	query := `SELECT payload FROM plans WHERE true`
	args := []any{}

	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, filter.Platform)
	}
	if filter.Company != "" {
		query += ` AND company = ?`
		args = append(args, filter.Company)
	}
	if filter.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(filter.Decision))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list plans")
	}
	defer rows.Close()

	var plans []model.SubmissionPlan
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan plan")
		}
		var plan model.SubmissionPlan
		if err := json.Unmarshal([]byte(payload), &plan); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal plan")
		}
		plans = append(plans, plan)
	}
	return plans, eris.Wrap(rows.Err(), "sqlite: iterate plans")
}

func (s *SQLiteStore) RedeemPlanToken(ctx context.Context, planID, token string, cutoff time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin token redemption")
	}
	defer tx.Rollback()

	var dbToken string
	var redeemedAt sql.NullTime
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT confirm_token, redeemed_at, created_at FROM plans WHERE id = ?`, planID,
	).Scan(&dbToken, &redeemedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, planNotFound(planID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: load plan %s for redemption", planID)
	}

	if dbToken != token {
		return false, model.NewStructured(model.CodeInvalidChallenge,
			"confirmation token was not issued for this plan")
	}
	if redeemedAt.Valid {
		return true, nil
	}
	if !createdAt.After(cutoff) {
		return false, model.NewStructured(model.CodeInvalidChallenge,
			"confirmation token has expired").
			WithHint("rebuild the plan to obtain a fresh token")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE plans SET redeemed_at = ? WHERE id = ? AND redeemed_at IS NULL`,
		time.Now().UTC(), planID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: redeem plan %s", planID)
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit token redemption")
	}
	return false, nil
}

func (s *SQLiteStore) BindPlanJob(ctx context.Context, planID, jobID, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET job_id = ?, run_id = ? WHERE id = ? AND job_id IS NULL`,
		jobID, runID, planID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: bind plan %s to job", planID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected for plan bind")
	}
	if n == 0 {
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

func (s *SQLiteStore) GetPlanJob(ctx context.Context, planID string) (*PlanBinding, error) {
	var jobID, runID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, run_id FROM plans WHERE id = ?`, planID,
	).Scan(&jobID, &runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planNotFound(planID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan %s job", planID)
	}
	if !jobID.Valid || jobID.String == "" {
		return nil, nil
	}
	return &PlanBinding{JobID: jobID.String, RunID: runID.String}, nil
}

func planNotFound(planID string) error {
	return model.NewStructured(model.CodePlanNotFound,
		fmt.Sprintf("plan %s does not exist", planID))
}

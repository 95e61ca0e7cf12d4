// Package postgres implements the store on PostgreSQL through database/sql
// and the pgx stdlib driver. The schema is created on open, so a fresh
// database needs no out-of-band migration step.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/applyforge/applyforge/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			job_family TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			personal JSONB NOT NULL DEFAULT '{}',
			preferences JSONB NOT NULL DEFAULT '{}',
			work_auth JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			years DOUBLE PRECISION NOT NULL DEFAULT 0,
			proficiency TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_skills_profile_name ON skills (profile_id, lower(name))`,
		`CREATE TABLE IF NOT EXISTS answers (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			question_hash TEXT NOT NULL,
			question TEXT NOT NULL DEFAULT '',
			answer_text TEXT NOT NULL DEFAULT '',
			question_type TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			verification_state TEXT NOT NULL DEFAULT 'needs_review',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (profile_id, question_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			compensation TEXT NOT NULL DEFAULT '',
			requirements JSONB NOT NULL DEFAULT '[]',
			responsibilities JSONB NOT NULL DEFAULT '[]',
			keywords JSONB NOT NULL DEFAULT '[]',
			jd_text TEXT NOT NULL DEFAULT '',
			jd_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			job_url TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			submit_requested BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			context JSONB NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			kind TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
			approval_status TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_event_sequences (
			run_id TEXT PRIMARY KEY,
			last_seq BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patch_suggestions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			operations JSONB NOT NULL DEFAULT '[]',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'suggested',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patch_suggestions_run ON patch_suggestions (run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			profile_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			markdown TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents (run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			confirmation_text TEXT NOT NULL DEFAULT '',
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateProfile(ctx context.Context, profile store.Profile) error {
	personal, err := encodeMap(profile.Personal)
	if err != nil {
		return err
	}
	preferences, err := encodeMap(profile.Preferences)
	if err != nil {
		return err
	}
	workAuth, err := encodeMap(profile.WorkAuth)
	if err != nil {
		return err
	}
	createdAt, updatedAt := timestampPair(profile.CreatedAt, profile.UpdatedAt)
	const query = `
		INSERT INTO profiles (id, name, job_family, summary, is_default, personal, preferences, work_auth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		profile.ID,
		profile.Name,
		profile.JobFamily,
		profile.Summary,
		profile.IsDefault,
		personal,
		preferences,
		workAuth,
		createdAt,
		updatedAt,
	)
	return err
}

func (p *PostgresStore) GetProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	const query = `
		SELECT id, name, job_family, summary, is_default, personal, preferences, work_auth, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	profile, err := scanProfile(p.db.QueryRowContext(ctx, query, profileID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (p *PostgresStore) ListProfiles(ctx context.Context) ([]store.Profile, error) {
	const query = `
		SELECT id, name, job_family, summary, is_default, personal, preferences, work_auth, created_at, updated_at
		FROM profiles
		ORDER BY created_at DESC, id DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Profile{}
	for rows.Next() {
		profile, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanProfile(scan func(dest ...any) error) (*store.Profile, error) {
	var (
		profile     store.Profile
		personal    []byte
		preferences []byte
		workAuth    []byte
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := scan(
		&profile.ID,
		&profile.Name,
		&profile.JobFamily,
		&profile.Summary,
		&profile.IsDefault,
		&personal,
		&preferences,
		&workAuth,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	profile.Personal = decodeJSONMap(personal)
	profile.Preferences = decodeJSONMap(preferences)
	profile.WorkAuth = decodeJSONMap(workAuth)
	profile.CreatedAt = formatTime(createdAt)
	profile.UpdatedAt = formatTime(updatedAt)
	return &profile, nil
}

func (p *PostgresStore) ApplyPatchOperation(ctx context.Context, profileID string, op store.PatchOperation) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	switch op.Table {
	case store.TablePersonal, store.TablePreferences, store.TableWorkAuth:
		err = applySectionOpTx(ctx, tx, profileID, op)
	case store.TableSkills:
		err = applySkillOpTx(ctx, tx, profileID, op)
	default:
		err = fmt.Errorf("unsupported patch table %q", op.Table)
	}
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, "UPDATE profiles SET updated_at = NOW() WHERE id = $1", profileID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func sectionColumn(table string) string {
	switch table {
	case store.TablePersonal:
		return "personal"
	case store.TablePreferences:
		return "preferences"
	default:
		return "work_auth"
	}
}

func applySectionOpTx(ctx context.Context, tx *sql.Tx, profileID string, op store.PatchOperation) error {
	column := sectionColumn(op.Table)
	var raw []byte
	query := fmt.Sprintf("SELECT %s FROM profiles WHERE id = $1 FOR UPDATE", column)
	if err := tx.QueryRowContext(ctx, query, profileID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrProfileNotFound
		}
		return err
	}

	merged, changed, err := mergeSection(decodeJSONMap(raw), op)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	update := fmt.Sprintf("UPDATE profiles SET %s = $2 WHERE id = $1", column)
	_, err = tx.ExecContext(ctx, update, profileID, encoded)
	return err
}

// mergeSection applies insert/update/upsert semantics to a single-row
// profile section. insert against a populated section is a no-op, update
// against an empty one is an error.
func mergeSection(current map[string]any, op store.PatchOperation) (map[string]any, bool, error) {
	exists := len(current) > 0
	switch op.Operation {
	case store.OpInsert:
		if exists {
			return nil, false, nil
		}
	case store.OpUpdate:
		if !exists {
			return nil, false, fmt.Errorf("cannot update missing row in table %q", op.Table)
		}
	case store.OpUpsert:
	default:
		return nil, false, fmt.Errorf("unsupported patch operation %q", op.Operation)
	}

	merged := make(map[string]any, len(current)+len(op.Values))
	for key, value := range current {
		merged[key] = value
	}
	for key, value := range op.Values {
		merged[key] = value
	}
	return merged, true, nil
}

func applySkillOpTx(ctx context.Context, tx *sql.Tx, profileID string, op store.PatchOperation) error {
	var profileExists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)", profileID).Scan(&profileExists); err != nil {
		return err
	}
	if !profileExists {
		return store.ErrProfileNotFound
	}

	name := firstString(op.Key, "name")
	if name == "" {
		name = firstString(op.Values, "name")
	}
	if name == "" {
		return fmt.Errorf("skill patch missing name key")
	}

	var skillID string
	err := tx.QueryRowContext(ctx, "SELECT id FROM skills WHERE profile_id = $1 AND lower(name) = lower($2) FOR UPDATE", profileID, name).Scan(&skillID)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	switch op.Operation {
	case store.OpInsert:
		if found {
			return nil
		}
	case store.OpUpdate:
		if !found {
			return fmt.Errorf("cannot update missing row in table %q", store.TableSkills)
		}
	case store.OpUpsert:
	default:
		return fmt.Errorf("unsupported patch operation %q", op.Operation)
	}

	category := firstString(op.Values, "category")
	years, hasYears := firstFloat(op.Values, "years")
	proficiency := firstString(op.Values, "proficiency")

	if !found {
		const insert = `
			INSERT INTO skills (id, profile_id, name, category, years, proficiency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`
		_, err := tx.ExecContext(ctx, insert, uuid.NewString(), profileID, name, category, years, proficiency)
		return err
	}

	const update = `
		UPDATE skills
		SET category = CASE WHEN $2 <> '' THEN $2 ELSE category END,
			years = CASE WHEN $3 THEN $4 ELSE years END,
			proficiency = CASE WHEN $5 <> '' THEN $5 ELSE proficiency END
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, update, skillID, category, hasYears, years, proficiency)
	return err
}

func (p *PostgresStore) UpsertSkill(ctx context.Context, skill store.Skill) error {
	const update = `
		UPDATE skills
		SET category = $3, years = $4, proficiency = $5
		WHERE profile_id = $1 AND lower(name) = lower($2)
	`
	result, err := p.db.ExecContext(ctx, update, skill.ProfileID, skill.Name, skill.Category, skill.Years, skill.Proficiency)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if skill.ID == "" {
		skill.ID = uuid.NewString()
	}
	const insert = `
		INSERT INTO skills (id, profile_id, name, category, years, proficiency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(ctx, insert, skill.ID, skill.ProfileID, skill.Name, skill.Category, skill.Years, skill.Proficiency, parseTimestampValue(skill.CreatedAt))
	return err
}

func (p *PostgresStore) ListSkills(ctx context.Context, profileID string) ([]store.Skill, error) {
	const query = `
		SELECT id, profile_id, name, category, years, proficiency, created_at
		FROM skills
		WHERE profile_id = $1
		ORDER BY lower(name) ASC
	`
	rows, err := p.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Skill{}
	for rows.Next() {
		var skill store.Skill
		var createdAt time.Time
		if err := rows.Scan(&skill.ID, &skill.ProfileID, &skill.Name, &skill.Category, &skill.Years, &skill.Proficiency, &createdAt); err != nil {
			return nil, err
		}
		skill.CreatedAt = formatTime(createdAt)
		results = append(results, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) UpsertAnswer(ctx context.Context, answer store.Answer) error {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO answers (
			id, profile_id, question_hash, question, answer_text,
			question_type, source, confidence, verification_state,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (profile_id, question_hash)
		DO UPDATE SET
			question = EXCLUDED.question,
			answer_text = EXCLUDED.answer_text,
			question_type = EXCLUDED.question_type,
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			verification_state = EXCLUDED.verification_state,
			updated_at = NOW()
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		answer.ID,
		answer.ProfileID,
		answer.QuestionHash,
		answer.Question,
		answer.AnswerText,
		answer.QuestionType,
		answer.Source,
		answer.Confidence,
		answer.VerificationState,
	)
	return err
}

func (p *PostgresStore) GetAnswer(ctx context.Context, profileID string, questionHash string) (*store.Answer, error) {
	const query = `
		SELECT id, profile_id, question_hash, question, answer_text, question_type, source, confidence, verification_state, created_at, updated_at
		FROM answers
		WHERE profile_id = $1 AND question_hash = $2
	`
	answer, err := scanAnswer(p.db.QueryRowContext(ctx, query, profileID, questionHash).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (p *PostgresStore) ListAnswers(ctx context.Context, profileID string) ([]store.Answer, error) {
	const query = `
		SELECT id, profile_id, question_hash, question, answer_text, question_type, source, confidence, verification_state, created_at, updated_at
		FROM answers
		WHERE profile_id = $1
		ORDER BY updated_at DESC, question_hash ASC
	`
	rows, err := p.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Answer{}
	for rows.Next() {
		answer, err := scanAnswer(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *answer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanAnswer(scan func(dest ...any) error) (*store.Answer, error) {
	var (
		answer    store.Answer
		createdAt time.Time
		updatedAt time.Time
	)
	if err := scan(
		&answer.ID,
		&answer.ProfileID,
		&answer.QuestionHash,
		&answer.Question,
		&answer.AnswerText,
		&answer.QuestionType,
		&answer.Source,
		&answer.Confidence,
		&answer.VerificationState,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	answer.CreatedAt = formatTime(createdAt)
	answer.UpdatedAt = formatTime(updatedAt)
	return &answer, nil
}

func (p *PostgresStore) SetAnswerVerification(ctx context.Context, profileID string, questionHash string, state string) error {
	const query = `
		UPDATE answers
		SET verification_state = $3, updated_at = NOW()
		WHERE profile_id = $1 AND question_hash = $2
	`
	result, err := p.db.ExecContext(ctx, query, profileID, questionHash, state)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrAnswerNotFound
	}
	return nil
}

func (p *PostgresStore) CreateJob(ctx context.Context, job store.Job) error {
	requirements, err := encodeStrings(job.Requirements)
	if err != nil {
		return err
	}
	responsibilities, err := encodeStrings(job.Responsibilities)
	if err != nil {
		return err
	}
	keywords, err := encodeStrings(job.Keywords)
	if err != nil {
		return err
	}
	createdAt, updatedAt := timestampPair(job.CreatedAt, job.UpdatedAt)
	const query = `
		INSERT INTO jobs (id, url, domain, title, company, location, compensation, requirements, responsibilities, keywords, jd_text, jd_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.URL,
		job.Domain,
		job.Title,
		job.Company,
		job.Location,
		job.Compensation,
		requirements,
		responsibilities,
		keywords,
		job.JDText,
		job.JDHash,
		createdAt,
		updatedAt,
	)
	return err
}

func (p *PostgresStore) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	const query = `
		SELECT id, url, domain, title, company, location, compensation, requirements, responsibilities, keywords, jd_text, jd_hash, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	job, err := scanJob(p.db.QueryRowContext(ctx, query, jobID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (p *PostgresStore) ListJobs(ctx context.Context, limit int) ([]store.Job, error) {
	const base = `
		SELECT id, url, domain, title, company, location, compensation, requirements, responsibilities, keywords, jd_text, jd_hash, created_at, updated_at
		FROM jobs
		ORDER BY created_at DESC, id DESC
	`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = p.db.QueryContext(ctx, base+" LIMIT $1", limit)
	} else {
		rows, err = p.db.QueryContext(ctx, base)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Job{}
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanJob(scan func(dest ...any) error) (*store.Job, error) {
	var (
		job              store.Job
		requirements     []byte
		responsibilities []byte
		keywords         []byte
		createdAt        time.Time
		updatedAt        time.Time
	)
	if err := scan(
		&job.ID,
		&job.URL,
		&job.Domain,
		&job.Title,
		&job.Company,
		&job.Location,
		&job.Compensation,
		&requirements,
		&responsibilities,
		&keywords,
		&job.JDText,
		&job.JDHash,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.Requirements = decodeStringSlice(requirements)
	job.Responsibilities = decodeStringSlice(responsibilities)
	job.Keywords = decodeStringSlice(keywords)
	job.CreatedAt = formatTime(createdAt)
	job.UpdatedAt = formatTime(updatedAt)
	return &job, nil
}

func (p *PostgresStore) UpdateJobAnalysis(ctx context.Context, job store.Job) error {
	requirements, err := encodeStrings(job.Requirements)
	if err != nil {
		return err
	}
	responsibilities, err := encodeStrings(job.Responsibilities)
	if err != nil {
		return err
	}
	keywords, err := encodeStrings(job.Keywords)
	if err != nil {
		return err
	}
	const query = `
		UPDATE jobs
		SET domain = $2,
			title = $3,
			company = $4,
			location = $5,
			compensation = $6,
			requirements = $7,
			responsibilities = $8,
			keywords = $9,
			jd_text = $10,
			jd_hash = $11,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := p.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Domain,
		job.Title,
		job.Company,
		job.Location,
		job.Compensation,
		requirements,
		responsibilities,
		keywords,
		job.JDText,
		job.JDHash,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

func (p *PostgresStore) CreateRun(ctx context.Context, run store.Run) error {
	contextBytes, err := encodeMap(run.Context)
	if err != nil {
		return err
	}
	createdAt, updatedAt := timestampPair(run.CreatedAt, run.UpdatedAt)
	const query = `
		INSERT INTO runs (id, job_id, profile_id, job_url, mode, submit_requested, status, stage, context, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.JobID,
		run.ProfileID,
		run.JobURL,
		run.Mode,
		run.SubmitRequested,
		run.Status,
		run.Stage,
		contextBytes,
		run.Error,
		createdAt,
		updatedAt,
	)
	return err
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	const query = `
		SELECT id, job_id, profile_id, job_url, mode, submit_requested, status, stage, context, error, created_at, updated_at, completed_at
		FROM runs
		WHERE id = $1
	`
	run, err := scanRun(p.db.QueryRowContext(ctx, query, runID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	const query = `
		SELECT id, job_id, profile_id, job_url, mode, submit_requested, status, stage, context, error, created_at, updated_at, completed_at
		FROM runs
		ORDER BY created_at DESC, id DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanRun(scan func(dest ...any) error) (*store.Run, error) {
	var (
		run          store.Run
		contextBytes []byte
		createdAt    time.Time
		updatedAt    time.Time
		completedAt  sql.NullTime
	)
	if err := scan(
		&run.ID,
		&run.JobID,
		&run.ProfileID,
		&run.JobURL,
		&run.Mode,
		&run.SubmitRequested,
		&run.Status,
		&run.Stage,
		&contextBytes,
		&run.Error,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	run.Context = decodeJSONMap(contextBytes)
	run.CreatedAt = formatTime(createdAt)
	run.UpdatedAt = formatTime(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = formatTime(completedAt.Time)
	}
	return &run, nil
}

func (p *PostgresStore) UpdateRun(ctx context.Context, runID string, update store.RunUpdate) error {
	status := ""
	if update.Status != nil {
		status = *update.Status
	}
	stage := ""
	if update.Stage != nil {
		stage = *update.Stage
	}
	errText := ""
	if update.Error != nil {
		errText = *update.Error
	}
	contextBytes := []byte("{}")
	if update.Context != nil {
		encoded, err := json.Marshal(update.Context)
		if err != nil {
			return err
		}
		contextBytes = encoded
	}
	const query = `
		UPDATE runs
		SET status = CASE WHEN $2 THEN $3 ELSE status END,
			stage = CASE WHEN $4 THEN $5 ELSE stage END,
			context = CASE WHEN $6 THEN $7::jsonb ELSE context END,
			error = CASE WHEN $8 THEN $9 ELSE error END,
			completed_at = CASE WHEN $10 THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := p.db.ExecContext(
		ctx,
		query,
		runID,
		update.Status != nil,
		status,
		update.Stage != nil,
		stage,
		update.Context != nil,
		contextBytes,
		update.Error != nil,
		errText,
		update.Completed,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (run_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (run_id)
		DO UPDATE SET last_seq = run_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, runID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	payload, err := encodeMap(event.Payload)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO run_events (run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		event.RunID,
		event.Seq,
		event.Kind,
		event.Stage,
		event.Action,
		parseTimestampValue(event.Timestamp),
		payload,
		event.RequiresApproval,
		event.ApprovalStatus,
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	return p.queryEvents(ctx, query, runID, afterSeq)
}

func (p *PostgresStore) GetEvent(ctx context.Context, runID string, seq int64) (*store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status
		FROM run_events
		WHERE run_id = $1 AND seq = $2
	`
	event, err := scanEvent(p.db.QueryRowContext(ctx, query, runID, seq).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (p *PostgresStore) SetEventApproval(ctx context.Context, runID string, seq int64, status string) error {
	const query = `
		UPDATE run_events
		SET approval_status = $3
		WHERE run_id = $1 AND seq = $2 AND requires_approval AND approval_status = 'pending'
	`
	result, err := p.db.ExecContext(ctx, query, runID, seq, status)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM run_events WHERE run_id = $1 AND seq = $2)", runID, seq).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrEventNotFound
	}
	return store.ErrEventNotPending
}

func (p *PostgresStore) PendingApprovalEvents(ctx context.Context, runID string) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status
		FROM run_events
		WHERE run_id = $1 AND requires_approval AND approval_status = 'pending'
		ORDER BY seq ASC
	`
	return p.queryEvents(ctx, query, runID)
}

func (p *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]store.RunEvent, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.RunEvent{}
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanEvent(scan func(dest ...any) error) (*store.RunEvent, error) {
	var (
		event     store.RunEvent
		timestamp time.Time
		payload   []byte
	)
	if err := scan(
		&event.RunID,
		&event.Seq,
		&event.Kind,
		&event.Stage,
		&event.Action,
		&timestamp,
		&payload,
		&event.RequiresApproval,
		&event.ApprovalStatus,
	); err != nil {
		return nil, err
	}
	event.Timestamp = formatTime(timestamp)
	event.Payload = decodeJSONMap(payload)
	return &event, nil
}

func (p *PostgresStore) CreatePatchSuggestion(ctx context.Context, suggestion store.PatchSuggestion) error {
	operations, err := json.Marshal(suggestion.Operations)
	if err != nil {
		return err
	}
	if suggestion.Operations == nil {
		operations = []byte("[]")
	}
	createdAt, updatedAt := timestampPair(suggestion.CreatedAt, suggestion.UpdatedAt)
	const query = `
		INSERT INTO patch_suggestions (id, run_id, provider, rationale, operations, confidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		suggestion.ID,
		suggestion.RunID,
		suggestion.Provider,
		suggestion.Rationale,
		operations,
		suggestion.Confidence,
		suggestion.Status,
		createdAt,
		updatedAt,
	)
	return err
}

func (p *PostgresStore) ListPatchSuggestions(ctx context.Context, runID string) ([]store.PatchSuggestion, error) {
	const query = `
		SELECT id, run_id, provider, rationale, operations, confidence, status, created_at, updated_at
		FROM patch_suggestions
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.PatchSuggestion{}
	for rows.Next() {
		var (
			suggestion store.PatchSuggestion
			operations []byte
			createdAt  time.Time
			updatedAt  time.Time
		)
		if err := rows.Scan(
			&suggestion.ID,
			&suggestion.RunID,
			&suggestion.Provider,
			&suggestion.Rationale,
			&operations,
			&suggestion.Confidence,
			&suggestion.Status,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		if len(operations) > 0 {
			if err := json.Unmarshal(operations, &suggestion.Operations); err != nil {
				return nil, err
			}
		}
		if suggestion.Operations == nil {
			suggestion.Operations = []store.PatchOperation{}
		}
		suggestion.CreatedAt = formatTime(createdAt)
		suggestion.UpdatedAt = formatTime(updatedAt)
		results = append(results, suggestion)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) SetPatchStatus(ctx context.Context, suggestionID string, status string) error {
	const query = `
		UPDATE patch_suggestions
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := p.db.ExecContext(ctx, query, suggestionID, status)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrPatchNotFound
	}
	return nil
}

func (p *PostgresStore) SaveDocument(ctx context.Context, doc store.DocumentVersion) error {
	metadata, err := encodeMap(doc.Metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO documents (id, run_id, job_id, profile_id, kind, markdown, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.RunID,
		doc.JobID,
		doc.ProfileID,
		doc.Kind,
		doc.Markdown,
		metadata,
		parseTimestampValue(doc.CreatedAt),
	)
	return err
}

func (p *PostgresStore) ListDocuments(ctx context.Context, runID string) ([]store.DocumentVersion, error) {
	const query = `
		SELECT id, run_id, job_id, profile_id, kind, markdown, metadata, created_at
		FROM documents
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.DocumentVersion{}
	for rows.Next() {
		var (
			doc       store.DocumentVersion
			metadata  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&doc.ID, &doc.RunID, &doc.JobID, &doc.ProfileID, &doc.Kind, &doc.Markdown, &metadata, &createdAt); err != nil {
			return nil, err
		}
		doc.Metadata = decodeJSONMap(metadata)
		doc.CreatedAt = formatTime(createdAt)
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) CreateSubmission(ctx context.Context, submission store.Submission) error {
	const query = `
		INSERT INTO submissions (id, run_id, confirmation_text, dry_run, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		submission.ID,
		submission.RunID,
		submission.ConfirmationText,
		submission.DryRun,
		parseTimestampValue(submission.SubmittedAt),
	)
	return err
}

func (p *PostgresStore) GetSubmission(ctx context.Context, runID string) (*store.Submission, error) {
	const query = `
		SELECT id, run_id, confirmation_text, dry_run, submitted_at
		FROM submissions
		WHERE run_id = $1
	`
	var (
		submission  store.Submission
		submittedAt time.Time
	)
	err := p.db.QueryRowContext(ctx, query, runID).Scan(
		&submission.ID,
		&submission.RunID,
		&submission.ConfirmationText,
		&submission.DryRun,
		&submittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	submission.SubmittedAt = formatTime(submittedAt)
	return &submission, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

// timestampPair resolves create/update stamps, defaulting a missing
// updated_at to created_at so fresh rows carry identical stamps.
func timestampPair(created, updated string) (time.Time, time.Time) {
	createdAt := parseTimestampValue(created)
	if strings.TrimSpace(updated) == "" {
		return createdAt, createdAt
	}
	return createdAt, parseTimestampValue(updated)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func encodeMap(values map[string]any) ([]byte, error) {
	if values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(values)
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(values)
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

func decodeStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	values := []string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		if value, ok := payload[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstFloat(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch typed := payload[key].(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

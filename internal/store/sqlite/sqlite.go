// Package sqlite implements the store on an embedded SQLite database via
// the CGO-free modernc driver. It is the default backend for single-user
// installs; the postgres package covers shared deployments.
//
// Timestamps are persisted as integer nanoseconds so ordering never depends
// on string formatting.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/applyforge/applyforge/internal/store"
)

type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path and ensures the
// schema exists. The connection pool is capped at one connection because
// SQLite allows a single writer.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if err := configurePragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func configurePragmas(ctx context.Context, db *sql.DB) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragma {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			job_family TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			is_default INTEGER NOT NULL DEFAULT 0,
			personal TEXT NOT NULL DEFAULT '{}',
			preferences TEXT NOT NULL DEFAULT '{}',
			work_auth TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			years REAL NOT NULL DEFAULT 0,
			proficiency TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS answers (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			question_hash TEXT NOT NULL,
			question TEXT NOT NULL DEFAULT '',
			answer_text TEXT NOT NULL DEFAULT '',
			question_type TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			verification_state TEXT NOT NULL DEFAULT 'needs_review',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (profile_id, question_hash)
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			compensation TEXT NOT NULL DEFAULT '',
			requirements TEXT NOT NULL DEFAULT '[]',
			responsibilities TEXT NOT NULL DEFAULT '[]',
			keywords TEXT NOT NULL DEFAULT '[]',
			jd_text TEXT NOT NULL DEFAULT '',
			jd_hash TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			job_url TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			submit_requested INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			requires_approval INTEGER NOT NULL DEFAULT 0,
			approval_status TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS run_event_sequences (
			run_id TEXT PRIMARY KEY,
			last_seq INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS patch_suggestions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			operations TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'suggested',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			job_id TEXT NOT NULL DEFAULT '',
			profile_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			markdown TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			confirmation_text TEXT NOT NULL DEFAULT '',
			dry_run INTEGER NOT NULL DEFAULT 0,
			submitted_at INTEGER NOT NULL
		);`,
	}
	indexStatements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_skills_profile_name ON skills (profile_id, lower(name));`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_patch_suggestions_run ON patch_suggestions (run_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_run ON documents (run_id, created_at);`,
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema index: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, profile store.Profile) error {
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
	createdAt, updatedAt := stampPair(profile.CreatedAt, profile.UpdatedAt)
	const query = `
		INSERT INTO profiles (id, name, job_family, summary, is_default, personal, preferences, work_auth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
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

func (s *SQLiteStore) GetProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	const query = `
		SELECT id, name, job_family, summary, is_default, personal, preferences, work_auth, created_at, updated_at
		FROM profiles
		WHERE id = ?
	`
	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, profileID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]store.Profile, error) {
	const query = `
		SELECT id, name, job_family, summary, is_default, personal, preferences, work_auth, created_at, updated_at
		FROM profiles
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
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
		createdAt   int64
		updatedAt   int64
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
	profile.CreatedAt = formatNanos(createdAt)
	profile.UpdatedAt = formatNanos(updatedAt)
	return &profile, nil
}

func (s *SQLiteStore) ApplyPatchOperation(ctx context.Context, profileID string, op store.PatchOperation) error {
	tx, err := s.db.BeginTx(ctx, nil)
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

	if _, err = tx.ExecContext(ctx, "UPDATE profiles SET updated_at = ? WHERE id = ?", nowNanos(), profileID); err != nil {
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
	query := fmt.Sprintf("SELECT %s FROM profiles WHERE id = ?", column)
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
	update := fmt.Sprintf("UPDATE profiles SET %s = ? WHERE id = ?", column)
	_, err = tx.ExecContext(ctx, update, encoded, profileID)
	return err
}

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
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM profiles WHERE id = ?)", profileID).Scan(&profileExists); err != nil {
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
	err := tx.QueryRowContext(ctx, "SELECT id FROM skills WHERE profile_id = ? AND lower(name) = lower(?)", profileID, name).Scan(&skillID)
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
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, insert, uuid.NewString(), profileID, name, category, years, proficiency, nowNanos())
		return err
	}

	const update = `
		UPDATE skills
		SET category = CASE WHEN ? <> '' THEN ? ELSE category END,
			years = CASE WHEN ? THEN ? ELSE years END,
			proficiency = CASE WHEN ? <> '' THEN ? ELSE proficiency END
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, update, category, category, hasYears, years, proficiency, proficiency, skillID)
	return err
}

func (s *SQLiteStore) UpsertSkill(ctx context.Context, skill store.Skill) error {
	const update = `
		UPDATE skills
		SET category = ?, years = ?, proficiency = ?
		WHERE profile_id = ? AND lower(name) = lower(?)
	`
	result, err := s.db.ExecContext(ctx, update, skill.Category, skill.Years, skill.Proficiency, skill.ProfileID, skill.Name)
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, insert, skill.ID, skill.ProfileID, skill.Name, skill.Category, skill.Years, skill.Proficiency, stampNanos(skill.CreatedAt))
	return err
}

func (s *SQLiteStore) ListSkills(ctx context.Context, profileID string) ([]store.Skill, error) {
	const query = `
		SELECT id, profile_id, name, category, years, proficiency, created_at
		FROM skills
		WHERE profile_id = ?
		ORDER BY lower(name) ASC
	`
	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Skill{}
	for rows.Next() {
		var skill store.Skill
		var createdAt int64
		if err := rows.Scan(&skill.ID, &skill.ProfileID, &skill.Name, &skill.Category, &skill.Years, &skill.Proficiency, &createdAt); err != nil {
			return nil, err
		}
		skill.CreatedAt = formatNanos(createdAt)
		results = append(results, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLiteStore) UpsertAnswer(ctx context.Context, answer store.Answer) error {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	now := nowNanos()
	const query = `
		INSERT INTO answers (
			id, profile_id, question_hash, question, answer_text,
			question_type, source, confidence, verification_state,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, question_hash)
		DO UPDATE SET
			question = excluded.question,
			answer_text = excluded.answer_text,
			question_type = excluded.question_type,
			source = excluded.source,
			confidence = excluded.confidence,
			verification_state = excluded.verification_state,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(
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
		now,
		now,
	)
	return err
}

func (s *SQLiteStore) GetAnswer(ctx context.Context, profileID string, questionHash string) (*store.Answer, error) {
	const query = `
		SELECT id, profile_id, question_hash, question, answer_text, question_type, source, confidence, verification_state, created_at, updated_at
		FROM answers
		WHERE profile_id = ? AND question_hash = ?
	`
	answer, err := scanAnswer(s.db.QueryRowContext(ctx, query, profileID, questionHash).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, profileID string) ([]store.Answer, error) {
	const query = `
		SELECT id, profile_id, question_hash, question, answer_text, question_type, source, confidence, verification_state, created_at, updated_at
		FROM answers
		WHERE profile_id = ?
		ORDER BY updated_at DESC, question_hash ASC
	`
	rows, err := s.db.QueryContext(ctx, query, profileID)
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
		createdAt int64
		updatedAt int64
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
	answer.CreatedAt = formatNanos(createdAt)
	answer.UpdatedAt = formatNanos(updatedAt)
	return &answer, nil
}

func (s *SQLiteStore) SetAnswerVerification(ctx context.Context, profileID string, questionHash string, state string) error {
	const query = `
		UPDATE answers
		SET verification_state = ?, updated_at = ?
		WHERE profile_id = ? AND question_hash = ?
	`
	result, err := s.db.ExecContext(ctx, query, state, nowNanos(), profileID, questionHash)
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

func (s *SQLiteStore) CreateJob(ctx context.Context, job store.Job) error {
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
	createdAt, updatedAt := stampPair(job.CreatedAt, job.UpdatedAt)
	const query = `
		INSERT INTO jobs (id, url, domain, title, company, location, compensation, requirements, responsibilities, keywords, jd_text, jd_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
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

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	const query = `
		SELECT id, url, domain, title, company, location, compensation, requirements, responsibilities, keywords, jd_text, jd_hash, created_at, updated_at
		FROM jobs
		WHERE id = ?
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]store.Job, error) {
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
		rows, err = s.db.QueryContext(ctx, base+" LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base)
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
		createdAt        int64
		updatedAt        int64
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
	job.CreatedAt = formatNanos(createdAt)
	job.UpdatedAt = formatNanos(updatedAt)
	return &job, nil
}

func (s *SQLiteStore) UpdateJobAnalysis(ctx context.Context, job store.Job) error {
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
		SET domain = ?,
			title = ?,
			company = ?,
			location = ?,
			compensation = ?,
			requirements = ?,
			responsibilities = ?,
			keywords = ?,
			jd_text = ?,
			jd_hash = ?,
			updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
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
		nowNanos(),
		job.ID,
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

func (s *SQLiteStore) CreateRun(ctx context.Context, run store.Run) error {
	contextBytes, err := encodeMap(run.Context)
	if err != nil {
		return err
	}
	createdAt, updatedAt := stampPair(run.CreatedAt, run.UpdatedAt)
	const query = `
		INSERT INTO runs (id, job_id, profile_id, job_url, mode, submit_requested, status, stage, context, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
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

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	const query = `
		SELECT id, job_id, profile_id, job_url, mode, submit_requested, status, stage, context, error, created_at, updated_at, completed_at
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	const query = `
		SELECT id, job_id, profile_id, job_url, mode, submit_requested, status, stage, context, error, created_at, updated_at, completed_at
		FROM runs
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
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
		createdAt    int64
		updatedAt    int64
		completedAt  sql.NullInt64
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
	run.CreatedAt = formatNanos(createdAt)
	run.UpdatedAt = formatNanos(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = formatNanos(completedAt.Int64)
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, runID string, update store.RunUpdate) error {
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
	now := nowNanos()
	const query = `
		UPDATE runs
		SET status = CASE WHEN ? THEN ? ELSE status END,
			stage = CASE WHEN ? THEN ? ELSE stage END,
			context = CASE WHEN ? THEN ? ELSE context END,
			error = CASE WHEN ? THEN ? ELSE error END,
			completed_at = CASE WHEN ? THEN ? ELSE completed_at END,
			updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		update.Status != nil,
		status,
		update.Stage != nil,
		stage,
		update.Context != nil,
		contextBytes,
		update.Error != nil,
		errText,
		update.Completed,
		now,
		now,
		runID,
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

func (s *SQLiteStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (run_id, last_seq)
		VALUES (?, 1)
		ON CONFLICT (run_id)
		DO UPDATE SET last_seq = last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := s.db.QueryRowContext(ctx, query, runID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	payload, err := encodeMap(event.Payload)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO run_events (run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		event.RunID,
		event.Seq,
		event.Kind,
		event.Stage,
		event.Action,
		stampNanos(event.Timestamp),
		payload,
		event.RequiresApproval,
		event.ApprovalStatus,
	)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status
		FROM run_events
		WHERE run_id = ? AND seq > ?
		ORDER BY seq ASC
	`
	return s.queryEvents(ctx, query, runID, afterSeq)
}

func (s *SQLiteStore) GetEvent(ctx context.Context, runID string, seq int64) (*store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status
		FROM run_events
		WHERE run_id = ? AND seq = ?
	`
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, runID, seq).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *SQLiteStore) SetEventApproval(ctx context.Context, runID string, seq int64, status string) error {
	const query = `
		UPDATE run_events
		SET approval_status = ?
		WHERE run_id = ? AND seq = ? AND requires_approval AND approval_status = 'pending'
	`
	result, err := s.db.ExecContext(ctx, query, status, runID, seq)
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
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM run_events WHERE run_id = ? AND seq = ?)", runID, seq).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrEventNotFound
	}
	return store.ErrEventNotPending
}

func (s *SQLiteStore) PendingApprovalEvents(ctx context.Context, runID string) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, kind, stage, action, timestamp, payload, requires_approval, approval_status
		FROM run_events
		WHERE run_id = ? AND requires_approval AND approval_status = 'pending'
		ORDER BY seq ASC
	`
	return s.queryEvents(ctx, query, runID)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]store.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
		timestamp int64
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
	event.Timestamp = formatNanos(timestamp)
	event.Payload = decodeJSONMap(payload)
	return &event, nil
}

func (s *SQLiteStore) CreatePatchSuggestion(ctx context.Context, suggestion store.PatchSuggestion) error {
	operations := []byte("[]")
	if suggestion.Operations != nil {
		encoded, err := json.Marshal(suggestion.Operations)
		if err != nil {
			return err
		}
		operations = encoded
	}
	createdAt, updatedAt := stampPair(suggestion.CreatedAt, suggestion.UpdatedAt)
	const query = `
		INSERT INTO patch_suggestions (id, run_id, provider, rationale, operations, confidence, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(
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

func (s *SQLiteStore) ListPatchSuggestions(ctx context.Context, runID string) ([]store.PatchSuggestion, error) {
	const query = `
		SELECT id, run_id, provider, rationale, operations, confidence, status, created_at, updated_at
		FROM patch_suggestions
		WHERE run_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.PatchSuggestion{}
	for rows.Next() {
		var (
			suggestion store.PatchSuggestion
			operations []byte
			createdAt  int64
			updatedAt  int64
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
		suggestion.CreatedAt = formatNanos(createdAt)
		suggestion.UpdatedAt = formatNanos(updatedAt)
		results = append(results, suggestion)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLiteStore) SetPatchStatus(ctx context.Context, suggestionID string, status string) error {
	const query = `
		UPDATE patch_suggestions
		SET status = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, nowNanos(), suggestionID)
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

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc store.DocumentVersion) error {
	metadata, err := encodeMap(doc.Metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO documents (id, run_id, job_id, profile_id, kind, markdown, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.RunID,
		doc.JobID,
		doc.ProfileID,
		doc.Kind,
		doc.Markdown,
		metadata,
		stampNanos(doc.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, runID string) ([]store.DocumentVersion, error) {
	const query = `
		SELECT id, run_id, job_id, profile_id, kind, markdown, metadata, created_at
		FROM documents
		WHERE run_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.DocumentVersion{}
	for rows.Next() {
		var (
			doc       store.DocumentVersion
			metadata  []byte
			createdAt int64
		)
		if err := rows.Scan(&doc.ID, &doc.RunID, &doc.JobID, &doc.ProfileID, &doc.Kind, &doc.Markdown, &metadata, &createdAt); err != nil {
			return nil, err
		}
		doc.Metadata = decodeJSONMap(metadata)
		doc.CreatedAt = formatNanos(createdAt)
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, submission store.Submission) error {
	const query = `
		INSERT INTO submissions (id, run_id, confirmation_text, dry_run, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		submission.ID,
		submission.RunID,
		submission.ConfirmationText,
		submission.DryRun,
		stampNanos(submission.SubmittedAt),
	)
	return err
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, runID string) (*store.Submission, error) {
	const query = `
		SELECT id, run_id, confirmation_text, dry_run, submitted_at
		FROM submissions
		WHERE run_id = ?
	`
	var (
		submission  store.Submission
		submittedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
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
	submission.SubmittedAt = formatNanos(submittedAt)
	return &submission, nil
}

func nowNanos() int64 {
	return time.Now().UTC().UnixNano()
}

func stampNanos(value string) int64 {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return nowNanos()
	}
	return parsed.UTC().UnixNano()
}

func stampPair(created, updated string) (int64, int64) {
	createdAt := stampNanos(created)
	if strings.TrimSpace(updated) == "" {
		return createdAt, createdAt
	}
	return createdAt, stampNanos(updated)
}

func formatNanos(value int64) string {
	return time.Unix(0, value).UTC().Format(time.RFC3339Nano)
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

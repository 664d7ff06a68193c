package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver, CGO-free, compatible with CGO_ENABLED=0

	"code-review-backend/internal/domain"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	// Cascade delete of review issues relies on this
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id                INTEGER PRIMARY KEY AUTOINCREMENT,
        email             TEXT NOT NULL UNIQUE,
        subscription_tier TEXT NOT NULL DEFAULT 'free',
        created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE TABLE IF NOT EXISTS projects (
        id          INTEGER PRIMARY KEY AUTOINCREMENT,
        name        TEXT NOT NULL,
        platform    TEXT NOT NULL,
        repo_owner  TEXT,
        repo_name   TEXT,
        remote_id   TEXT,
        api_token   TEXT,
        user_id     INTEGER NOT NULL REFERENCES users(id),
        created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);
    CREATE TABLE IF NOT EXISTS project_members (
        project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        role        TEXT NOT NULL,
        PRIMARY KEY (project_id, user_id)
    );
    CREATE TABLE IF NOT EXISTS ai_reviews (
        id                      INTEGER PRIMARY KEY AUTOINCREMENT,
        project_id              INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        pr_number               INTEGER NOT NULL,
        status                  TEXT NOT NULL,
        overall_rating          TEXT,
        summary                 TEXT,
        files_analyzed          INTEGER DEFAULT 0,
        issues_found            INTEGER DEFAULT 0,
        ai_model                TEXT NOT NULL DEFAULT '',
        tokens_used             INTEGER DEFAULT 0,
        processing_time_seconds INTEGER DEFAULT 0,
        api_key_used            INTEGER,
        requested_by            INTEGER NOT NULL REFERENCES users(id),
        created_at              DATETIME DEFAULT CURRENT_TIMESTAMP,
        completed_at            DATETIME,
        error_message           TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_reviews_pr ON ai_reviews(project_id, pr_number);
    CREATE TABLE IF NOT EXISTS review_issues (
        id           INTEGER PRIMARY KEY AUTOINCREMENT,
        review_id    INTEGER NOT NULL REFERENCES ai_reviews(id) ON DELETE CASCADE,
        file_path    TEXT NOT NULL,
        line_number  INTEGER,
        severity     TEXT NOT NULL,
        category     TEXT NOT NULL,
        title        TEXT NOT NULL,
        description  TEXT NOT NULL,
        suggestion   TEXT,
        code_snippet TEXT,
        created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_issues_review ON review_issues(review_id);
    CREATE TABLE IF NOT EXISTS usage_tracking (
        id               INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id          INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        year             INTEGER NOT NULL,
        month            INTEGER NOT NULL,
        ai_reviews_count INTEGER NOT NULL DEFAULT 0,
        created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE(user_id, year, month)
    );
    `
	_, err := db.Exec(schema)
	return err
}

// Users

func (r *SQLiteRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.Tier == "" {
		user.Tier = domain.TierFree
	}
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO users (email, subscription_tier) VALUES (?, ?)
    `, user.Email, string(user.Tier))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	var tier string
	err := r.db.QueryRowContext(ctx, `
        SELECT id, email, subscription_tier, created_at FROM users WHERE id = ?
    `, id).Scan(&u.ID, &u.Email, &tier, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Tier = domain.Tier(tier)
	return &u, nil
}

func (r *SQLiteRepository) UpdateUserTier(ctx context.Context, userID int64, tier domain.Tier) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users SET subscription_tier = ? WHERE id = ?
    `, string(tier), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Projects

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *domain.Project) error {
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO projects (name, platform, repo_owner, repo_name, remote_id, api_token, user_id)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, p.Name, string(p.Platform), p.RepoOwner, p.RepoName, p.RemoteID, p.APIToken, p.OwnerID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) GetProjectForUser(ctx context.Context, projectID, userID int64) (*domain.Project, error) {
	var p domain.Project
	var platform string
	err := r.db.QueryRowContext(ctx, `
        SELECT p.id, p.name, p.platform, p.repo_owner, p.repo_name, p.remote_id, p.api_token, p.user_id, p.created_at
        FROM projects p
        LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = ?
        WHERE p.id = ? AND (p.user_id = ? OR m.user_id IS NOT NULL)
    `, userID, projectID, userID).Scan(
		&p.ID, &p.Name, &platform, &p.RepoOwner, &p.RepoName, &p.RemoteID, &p.APIToken, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Platform = domain.Platform(platform)
	return &p, nil
}

func (r *SQLiteRepository) AddMember(ctx context.Context, projectID, userID int64, role domain.MemberRole) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)
        ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role
    `, projectID, userID, string(role))
	return err
}

func (r *SQLiteRepository) GetMemberRole(ctx context.Context, projectID, userID int64) (domain.MemberRole, error) {
	// The project owner holds the owner role without a membership row
	var ownerID int64
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM projects WHERE id = ?`, projectID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if ownerID == userID {
		return domain.RoleOwner, nil
	}

	var role string
	err = r.db.QueryRowContext(ctx, `
        SELECT role FROM project_members WHERE project_id = ? AND user_id = ?
    `, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.MemberRole(role), nil
}

// Reviews

func (r *SQLiteRepository) CreateReview(ctx context.Context, review *domain.Review) error {
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO ai_reviews (project_id, pr_number, status, ai_model, requested_by, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, review.ProjectID, review.PRNumber, string(review.Status), review.Model, review.RequestedBy, review.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	review.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) UpdateReview(ctx context.Context, review *domain.Review) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE ai_reviews SET
            status = ?, overall_rating = ?, summary = ?, files_analyzed = ?,
            issues_found = ?, tokens_used = ?, processing_time_seconds = ?,
            api_key_used = ?, completed_at = ?, error_message = ?
        WHERE id = ?
    `, string(review.Status), review.OverallRating, review.Summary, review.FilesAnalyzed,
		review.IssuesFound, review.TokensUsed, review.ProcessingSec,
		nullableInt(review.APIKeyUsed), review.CompletedAt, nullableString(review.ErrorMessage), review.ID)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetReview(ctx context.Context, id int64) (*domain.Review, error) {
	row := r.db.QueryRowContext(ctx, reviewSelect+` WHERE id = ?`, id)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return review, err
}

func (r *SQLiteRepository) GetReviewForPR(ctx context.Context, projectID int64, prNumber int, requestedBy int64) (*domain.Review, error) {
	row := r.db.QueryRowContext(ctx,
		reviewSelect+` WHERE project_id = ? AND pr_number = ? AND requested_by = ?`,
		projectID, prNumber, requestedBy)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return review, err
}

func (r *SQLiteRepository) ListReviewsByPR(ctx context.Context, projectID int64, prNumber int) ([]*domain.Review, error) {
	rows, err := r.db.QueryContext(ctx,
		reviewSelect+` WHERE project_id = ? AND pr_number = ? ORDER BY created_at DESC`,
		projectID, prNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []*domain.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			slog.Warn("scan review failed", "error", err)
			continue
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}

func (r *SQLiteRepository) DeleteReview(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ai_reviews WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Issues

func (r *SQLiteRepository) InsertIssues(ctx context.Context, issues []*domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO review_issues (review_id, file_path, line_number, severity, category, title, description, suggestion, code_snippet)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, issue := range issues {
		res, err := stmt.ExecContext(ctx, issue.ReviewID, issue.FilePath, issue.LineNumber,
			string(issue.Severity), issue.Category, issue.Title, issue.Description,
			nullableString(issue.Suggestion), nullableString(issue.CodeSnippet))
		if err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
		issue.ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListIssues(ctx context.Context, reviewID int64) ([]*domain.Issue, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, review_id, file_path, line_number, severity, category, title, description,
               COALESCE(suggestion, ''), COALESCE(code_snippet, ''), created_at
        FROM review_issues WHERE review_id = ? ORDER BY id
    `, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*domain.Issue
	for rows.Next() {
		var issue domain.Issue
		var severity string
		if err := rows.Scan(&issue.ID, &issue.ReviewID, &issue.FilePath, &issue.LineNumber,
			&severity, &issue.Category, &issue.Title, &issue.Description,
			&issue.Suggestion, &issue.CodeSnippet, &issue.CreatedAt); err != nil {
			slog.Warn("scan issue failed", "error", err)
			continue
		}
		issue.Severity = domain.IssueSeverity(severity)
		issues = append(issues, &issue)
	}
	return issues, rows.Err()
}

// Usage counters

func (r *SQLiteRepository) GetOrCreateUsage(ctx context.Context, userID int64, year, month int) (*domain.UsageRecord, error) {
	// Lazy creation keeps the insert idempotent under concurrent checks
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO usage_tracking (user_id, year, month, ai_reviews_count)
        VALUES (?, ?, ?, 0)
        ON CONFLICT(user_id, year, month) DO NOTHING
    `, userID, year, month)
	if err != nil {
		return nil, fmt.Errorf("create usage: %w", err)
	}

	var u domain.UsageRecord
	err = r.db.QueryRowContext(ctx, `
        SELECT id, user_id, year, month, ai_reviews_count, created_at, updated_at
        FROM usage_tracking WHERE user_id = ? AND year = ? AND month = ?
    `, userID, year, month).Scan(&u.ID, &u.UserID, &u.Year, &u.Month, &u.ReviewsCount, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *SQLiteRepository) IncrementUsage(ctx context.Context, userID int64, year, month int) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO usage_tracking (user_id, year, month, ai_reviews_count)
        VALUES (?, ?, ?, 1)
        ON CONFLICT(user_id, year, month)
        DO UPDATE SET ai_reviews_count = ai_reviews_count + 1, updated_at = CURRENT_TIMESTAMP
    `, userID, year, month)
	return err
}

// Ping verifies the database connection, used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const reviewSelect = `
    SELECT id, project_id, pr_number, status, COALESCE(overall_rating, ''), COALESCE(summary, ''),
           files_analyzed, issues_found, ai_model, tokens_used, processing_time_seconds,
           COALESCE(api_key_used, 0), requested_by, created_at, completed_at, COALESCE(error_message, '')
    FROM ai_reviews`

// Scanner interface to support both Row and Rows
type Scanner interface {
	Scan(dest ...any) error
}

func scanReview(s Scanner) (*domain.Review, error) {
	var review domain.Review
	var status string
	if err := s.Scan(&review.ID, &review.ProjectID, &review.PRNumber, &status,
		&review.OverallRating, &review.Summary, &review.FilesAnalyzed, &review.IssuesFound,
		&review.Model, &review.TokensUsed, &review.ProcessingSec, &review.APIKeyUsed,
		&review.RequestedBy, &review.CreatedAt, &review.CompletedAt, &review.ErrorMessage); err != nil {
		return nil, err
	}
	review.Status = domain.ReviewStatus(status)
	return &review, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

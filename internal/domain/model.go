package domain

import "time"

// ReviewStatus is the lifecycle state of an AI review.
// Transitions: pending -> processing -> completed | failed. Never re-opened.
type ReviewStatus string

const (
	StatusPending    ReviewStatus = "pending"
	StatusProcessing ReviewStatus = "processing"
	StatusCompleted  ReviewStatus = "completed"
	StatusFailed     ReviewStatus = "failed"
)

// IssueSeverity classifies a single finding.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
	SeverityInfo     IssueSeverity = "info"
)

// ParseSeverity maps an untrusted severity string into the fixed enum,
// defaulting to info for unknown or missing values.
func ParseSeverity(s string) IssueSeverity {
	switch IssueSeverity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return IssueSeverity(s)
	default:
		return SeverityInfo
	}
}

// Platform identifies which code-hosting API a project is backed by.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

// MemberRole is a project membership role. Higher values imply the
// permissions of lower ones.
type MemberRole string

const (
	RoleViewer   MemberRole = "viewer"
	RoleReviewer MemberRole = "reviewer"
	RoleAdmin    MemberRole = "admin"
	RoleOwner    MemberRole = "owner"
)

// Tier is a subscription level governing the monthly review quota.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// User is the requester identity as far as this backend cares:
// a stable id and a subscription tier.
type User struct {
	ID        int64
	Email     string
	Tier      Tier
	CreatedAt time.Time
}

// Project references a hosted repository and the credentials to reach it.
// RepoOwner/RepoName address GitHub repositories; RemoteID addresses GitLab
// projects (numeric id or url-encoded path).
type Project struct {
	ID        int64
	Name      string
	Platform  Platform
	RepoOwner string
	RepoName  string
	RemoteID  string
	APIToken  string
	OwnerID   int64
	CreatedAt time.Time
}

// Review is one AI analysis attempt for a (project, pull request, requester)
// triple. At most one non-deleted review exists per triple, enforced by an
// existence check before creation.
type Review struct {
	ID            int64        `json:"id"`
	ProjectID     int64        `json:"project_id"`
	PRNumber      int          `json:"pr_number"`
	Status        ReviewStatus `json:"status"`
	OverallRating string       `json:"overall_rating,omitempty"`
	Summary       string       `json:"summary,omitempty"`
	FilesAnalyzed int          `json:"files_analyzed"`
	IssuesFound   int          `json:"issues_found"`
	Model         string       `json:"ai_model"`
	TokensUsed    int          `json:"tokens_used"`
	ProcessingSec int          `json:"processing_time_seconds"`
	APIKeyUsed    int          `json:"api_key_used,omitempty"`
	RequestedBy   int64        `json:"requested_by"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// Issue is one finding attached to a completed review.
type Issue struct {
	ID          int64         `json:"id"`
	ReviewID    int64         `json:"review_id"`
	FilePath    string        `json:"file_path"`
	LineNumber  *int          `json:"line_number,omitempty"`
	Severity    IssueSeverity `json:"severity"`
	Category    string        `json:"category"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Suggestion  string        `json:"suggestion,omitempty"`
	CodeSnippet string        `json:"code_snippet,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// UsageRecord is the monthly AI review counter for one user.
// Unique per (user, year, month); created lazily, only ever incremented.
type UsageRecord struct {
	ID           int64
	UserID       int64
	Year         int
	Month        int
	ReviewsCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FileChange is one changed file in a pull request, normalized across
// platforms. Patch carries GitHub's "patch" or GitLab's "diff" text.
type FileChange struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// PullRequestDetails is the platform-normalized shape of a PR/MR that the
// orchestrator treats uniformly.
type PullRequestDetails struct {
	Number       int
	Title        string
	Description  string
	Author       string
	SourceBranch string
	TargetBranch string
	Files        []FileChange
}

package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string     `json:"id"`
	DisplayName           string     `json:"displayName"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	Role                  string     `json:"role"`
	CompanyID             string     `json:"companyId,omitempty"`
	IsEmailVerified       bool       `json:"isEmailVerified"`
	VerificationToken     string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Project struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectSummary is the dashboard roll-up for one project.
type ProjectSummary struct {
	ProjectID          string         `json:"projectId"`
	TasksByStatus      map[string]int `json:"tasksByStatus"`
	TaskCount          int            `json:"taskCount"`
	AverageProgress    float64        `json:"averageProgress"`
	OpenRFQs           int            `json:"openRfqs"`
	CommittedCents     int64          `json:"committedCents"`
	PendingApprovals   int            `json:"pendingApprovals"`
	ActiveTimers       int            `json:"activeTimers"`
	TrackedSeconds     int64          `json:"trackedSeconds"`
	DocumentsProcessed int            `json:"documentsProcessed"`
}

type Task struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	ParentID     string    `json:"parentId,omitempty"`
	Name         string    `json:"name"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	DurationDays int       `json:"durationDays"`
	Progress     int       `json:"progress"`
	Status       string    `json:"status"`
	IsStage      bool      `json:"isStage"`
	IsCritical   bool      `json:"isCritical"`
	SortOrder    int       `json:"sortOrder"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type TaskDependency struct {
	ID                string `json:"id"`
	ProjectID         string `json:"projectId"`
	PredecessorTaskID string `json:"predecessorTaskId"`
	SuccessorTaskID   string `json:"successorTaskId"`
	Type              string `json:"type"`
	LagDays           int    `json:"lagDays"`
}

type Stakeholder struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Company   string `json:"company"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type Vendor struct {
	ID            string `json:"id"`
	CompanyID     string `json:"companyId"`
	Name          string `json:"name"`
	TradeCategory string `json:"tradeCategory"`
	ContactName   string `json:"contactName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
}

type RFQ struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"projectId"`
	Title         string     `json:"title"`
	TradeCategory string     `json:"tradeCategory"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type Quote struct {
	ID          string    `json:"id"`
	RFQID       string    `json:"rfqId"`
	VendorID    string    `json:"vendorId"`
	AmountCents int64     `json:"amountCents"`
	Notes       string    `json:"notes"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Commitment struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	VendorID   string    `json:"vendorId"`
	RFQID      string    `json:"rfqId,omitempty"`
	Title      string    `json:"title"`
	ValueCents int64     `json:"valueCents"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Approval struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	SubjectType string     `json:"subjectType"`
	SubjectID   string     `json:"subjectId"`
	RequestedBy string     `json:"requestedBy"`
	ApproverID  string     `json:"approverId,omitempty"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type TimeEntry struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	ProjectID       string     `json:"projectId"`
	TaskID          string     `json:"taskId,omitempty"`
	Category        string     `json:"category"`
	Notes           string     `json:"notes,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
	Active          bool       `json:"active"`
}

// TimeFilter narrows ListTimeEntries. Empty fields match everything.
type TimeFilter struct {
	UserID    string
	ProjectID string
	From      *time.Time
	To        *time.Time
}

type Role struct {
	ID          string           `json:"id"`
	CompanyID   string           `json:"companyId"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Permissions []RolePermission `json:"permissions"`
}

type RolePermission struct {
	Key     string `json:"key"`
	Scope   string `json:"scope"`
	Enabled bool   `json:"enabled"`
}

type UserPermission struct {
	UserID    string `json:"userId"`
	CompanyID string `json:"companyId"`
	ProjectID string `json:"projectId,omitempty"`
	Key       string `json:"key"`
	Enabled   bool   `json:"enabled"`
}

// ManageableUser is a row returned by get_manageable_users_for_user.
type ManageableUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

const (
	ProcessingPending    = "pending"
	ProcessingRunning    = "processing"
	ProcessingCompleted  = "completed"
	ProcessingFailed     = "failed"
	DocumentsBucket      = "documents"
	ContractsBucket      = "contracts"
	DefaultDocCategory   = "general"
	DefaultProjectStatus = "active"
	DefaultTaskStatus    = "not_started"
)

type ProjectDocument struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"projectId"`
	CompanyID        string          `json:"companyId"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Bucket           string          `json:"bucket"`
	ObjectKey        string          `json:"objectKey"`
	SizeBytes        int64           `json:"sizeBytes"`
	ContentType      string          `json:"contentType"`
	ProcessingStatus string          `json:"processingStatus"`
	AISummary        string          `json:"aiSummary,omitempty"`
	AIAnalysis       json.RawMessage `json:"aiAnalysis,omitempty"`
	ExtractedText    string          `json:"-"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	UploadedBy       string          `json:"uploadedBy"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

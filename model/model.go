// Package model defines the canonical data model of the exef document-flow
// engine: identities, entities, projects, tasks, documents and the records
// produced by import/export runs. Every adapter produces and every exporter
// consumes the Document shape defined here.
//
// All identifiers are opaque 36-character strings (UUIDv4 generated at
// application level). Enumerations are typed string constants and serialise
// to JSON by their string value.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// EntityKind classifies the legal form of a business entity.
type EntityKind string

const (
	EntitySoleProprietorship EntityKind = "sole_proprietorship"
	EntityMarriage           EntityKind = "marriage"
	EntityCompany            EntityKind = "company"
	EntityOrganisation       EntityKind = "organisation"
)

// MemberRole is the role of an identity inside an entity.
type MemberRole string

const (
	RoleOwner      MemberRole = "owner"
	RoleAccountant MemberRole = "accountant"
	RoleAssistant  MemberRole = "assistant"
	RoleViewer     MemberRole = "viewer"
)

// ProjectKind enumerates the supported workstream categories.
type ProjectKind string

const (
	ProjectBookkeeping     ProjectKind = "bookkeeping"
	ProjectJPK             ProjectKind = "jpk"
	ProjectSocialInsurance ProjectKind = "social_insurance"
	ProjectEUVAT           ProjectKind = "eu_vat"
	ProjectClient          ProjectKind = "client_project"
	ProjectRnD             ProjectKind = "rnd"
	ProjectKPiR            ProjectKind = "kpir"
	ProjectPaymentsIn      ProjectKind = "payments_in"
	ProjectPaymentProofs   ProjectKind = "payment_proofs"
	ProjectShipping        ProjectKind = "shipping"
	ProjectRecruitment     ProjectKind = "recruitment"
	ProjectContracts       ProjectKind = "contracts"
	ProjectOther           ProjectKind = "other"
)

// TaskRecurrence controls how many tasks a template expands to.
type TaskRecurrence string

const (
	RecurMonthly   TaskRecurrence = "monthly"
	RecurQuarterly TaskRecurrence = "quarterly"
	RecurYearly    TaskRecurrence = "yearly"
	RecurOnce      TaskRecurrence = "once"
)

// TaskStatus is the overall state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskExported   TaskStatus = "exported"
)

// PhaseStatus tracks one of the three task phases (import, describe, export).
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// DocumentStatus is the review state of a document. The progression is
// monotone along new -> described -> approved -> exported; skipping forward
// is allowed, skipping backward is not.
type DocumentStatus string

const (
	DocNew       DocumentStatus = "new"
	DocDescribed DocumentStatus = "described"
	DocApproved  DocumentStatus = "approved"
	DocExported  DocumentStatus = "exported"
)

// StatusRank orders document statuses for the monotonicity check.
func StatusRank(s DocumentStatus) int {
	switch s {
	case DocNew:
		return 0
	case DocDescribed:
		return 1
	case DocApproved:
		return 2
	case DocExported:
		return 3
	}
	return -1
}

// DocumentKind classifies the business meaning of a document.
type DocumentKind string

const (
	KindInvoice    DocumentKind = "invoice"
	KindCV         DocumentKind = "cv"
	KindReceipt    DocumentKind = "receipt"
	KindContract   DocumentKind = "contract"
	KindPaymentIn  DocumentKind = "payment_in"
	KindPaymentOut DocumentKind = "payment_out"
	KindCorrection DocumentKind = "correction"
	KindProforma   DocumentKind = "proforma"
)

// SourceDirection separates import from export data sources.
type SourceDirection string

const (
	DirectionImport SourceDirection = "import"
	DirectionExport SourceDirection = "export"
)

// RunStatus is the outcome of a single flow run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunPartial RunStatus = "partial"
)

// RelationType links two documents.
type RelationType string

const (
	RelPayment           RelationType = "payment"
	RelCorrection        RelationType = "correction"
	RelContractToInvoice RelationType = "contract_to_invoice"
	RelAttachment        RelationType = "attachment"
	RelDuplicate         RelationType = "duplicate"
	RelRelated           RelationType = "related"
)

// RelationTypes lists every valid relation type, in catalogue order.
var RelationTypes = []RelationType{
	RelPayment, RelCorrection, RelContractToInvoice,
	RelAttachment, RelDuplicate, RelRelated,
}

// SyncDirection controls entity-database replication.
type SyncDirection string

const (
	SyncLocalToRemote SyncDirection = "local_to_remote"
	SyncRemoteToLocal SyncDirection = "remote_to_local"
	SyncBidirectional SyncDirection = "bidirectional"
)

// Identity is a human principal. Lives in the main database; stub copies are
// written into entity databases to satisfy foreign keys (see StubMarker).
type Identity struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Email        string     `gorm:"uniqueIndex;size:255" json:"email"`
	FirstName    string     `gorm:"size:100" json:"first_name"`
	LastName     string     `gorm:"size:100" json:"last_name"`
	NIP          string     `gorm:"size:10" json:"nip,omitempty"`
	PESEL        string     `gorm:"size:11" json:"pesel,omitempty"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	Verified     bool       `json:"verified"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// StubMarker is the synthetic password-hash value carried by identity and
// entity stub rows copied into entity databases. Stub rows are write-once and
// never used for authentication.
const StubMarker = "!stub"

// IsStub reports whether the identity row is a foreign-key stub.
func (i *Identity) IsStub() bool { return i.PasswordHash == StubMarker }

// Entity is a business whose documents are managed. The entity transitively
// owns all its projects and documents.
type Entity struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Kind      EntityKind `gorm:"size:32" json:"kind"`
	Name      string     `gorm:"size:255" json:"name"`
	NIP       *string    `gorm:"uniqueIndex;size:10" json:"nip,omitempty"`
	OwnerID   string     `gorm:"size:36;index" json:"owner_id"`
	Archived  bool       `json:"archived"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EntityMember maps an identity into an entity with a role and capabilities.
type EntityMember struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	EntityID          string     `gorm:"size:36;index:idx_member,unique" json:"entity_id"`
	IdentityID        string     `gorm:"size:36;index:idx_member,unique" json:"identity_id"`
	Role              MemberRole `gorm:"size:16" json:"role"`
	CanManageProjects bool       `json:"can_manage_projects"`
	CanInviteMembers  bool       `json:"can_invite_members"`
	CanExport         bool       `json:"can_export"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EntityDatabase is the per-entity storage configuration row (main database).
type EntityDatabase struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	EntityID        string        `gorm:"size:36;uniqueIndex" json:"entity_id"`
	LocalURL        string        `gorm:"size:512" json:"local_url"`
	LocalPath       string        `gorm:"size:512" json:"local_path"`
	RemoteURL       string        `gorm:"size:512" json:"remote_url,omitempty"`
	SyncEnabled     bool          `json:"sync_enabled"`
	SyncDirection   SyncDirection `gorm:"size:24" json:"sync_direction"`
	SyncIntervalMin int           `json:"sync_interval_min"`
	LastSyncAt      *time.Time    `json:"last_sync_at,omitempty"`
	LastSyncStatus  string        `gorm:"size:32" json:"last_sync_status,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Project is a time-bounded workstream inside an entity.
type Project struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	EntityID    string      `gorm:"size:36;index" json:"entity_id"`
	TemplateID  *string     `gorm:"size:36" json:"template_id,omitempty"`
	Name        string      `gorm:"size:255" json:"name"`
	Kind        ProjectKind `gorm:"size:32" json:"kind"`
	Year        int         `json:"year"`
	PeriodStart *time.Time  `json:"period_start,omitempty"`
	PeriodEnd   *time.Time  `json:"period_end,omitempty"`
	Categories  StringList  `gorm:"type:text" json:"categories"`
	Tags        StringList  `gorm:"type:text" json:"tags"`
	Icon        string      `gorm:"size:64" json:"icon,omitempty"`
	Color       string      `gorm:"size:16" json:"color,omitempty"`
	Active      bool        `json:"active"`
	Archived    bool        `json:"archived"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ProjectTemplate is a system- or user-owned blueprint for projects.
type ProjectTemplate struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	OwnerID          *string        `gorm:"size:36" json:"owner_id,omitempty"`
	Name             string         `gorm:"size:255" json:"name"`
	Kind             ProjectKind    `gorm:"size:32" json:"kind"`
	Recurrence       TaskRecurrence `gorm:"size:16" json:"recurrence"`
	TaskNameTemplate string         `gorm:"size:255" json:"task_name_template"`
	DeadlineDay      int            `json:"deadline_day"`
	Categories       StringList     `gorm:"type:text" json:"categories"`
	Icon             string         `gorm:"size:64" json:"icon,omitempty"`
	Color            string         `gorm:"size:16" json:"color,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ProjectAuthorization delegates project access to an identity outside the
// entity's membership. The validity window must include the current time for
// the delegation to take effect.
type ProjectAuthorization struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	ProjectID   string     `gorm:"size:36;index" json:"project_id"`
	IdentityID  string     `gorm:"size:36;index" json:"identity_id"`
	Role        string     `gorm:"size:32" json:"role"`
	CanView     bool       `json:"can_view"`
	CanDescribe bool       `json:"can_describe"`
	CanApprove  bool       `json:"can_approve"`
	CanExport   bool       `json:"can_export"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	GrantedBy   string     `gorm:"size:36" json:"granted_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Task is a unit of periodic work inside a project. The four counters are
// cached aggregates maintained by the flow engine and the document handlers;
// the invariant docs_total >= docs_described >= docs_approved >= docs_exported
// >= 0 holds after every committed operation.
type Task struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	ProjectID      string      `gorm:"size:36;index" json:"project_id"`
	Name           string      `gorm:"size:255" json:"name"`
	PeriodStart    *time.Time  `json:"period_start,omitempty"`
	PeriodEnd      *time.Time  `json:"period_end,omitempty"`
	Deadline       *time.Time  `json:"deadline,omitempty"`
	AssigneeID     *string     `gorm:"size:36" json:"assignee_id,omitempty"`
	Status         TaskStatus  `gorm:"size:16;default:pending" json:"status"`
	ImportStatus   PhaseStatus `gorm:"size:16;default:not_started" json:"import_status"`
	DescribeStatus PhaseStatus `gorm:"size:16;default:not_started" json:"describe_status"`
	ExportStatus   PhaseStatus `gorm:"size:16;default:not_started" json:"export_status"`
	DocsTotal      int         `json:"docs_total"`
	DocsDescribed  int         `json:"docs_described"`
	DocsApproved   int         `json:"docs_approved"`
	DocsExported   int         `json:"docs_exported"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Document is a canonicalised record. The source fields are read-only after
// import; editable state lives in the DocumentMetadata side-car.
type Document struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	TaskID        string          `gorm:"size:36;index" json:"task_id"`
	Kind          DocumentKind    `gorm:"size:16;default:invoice" json:"doc_type"`
	Number        string          `gorm:"size:128" json:"number"`
	Contractor    string          `gorm:"size:255" json:"contractor"`
	ContractorNIP string          `gorm:"size:10" json:"contractor_nip"`
	AmountNet     decimal.Decimal `gorm:"type:decimal(14,2)" json:"amount_net"`
	AmountVAT     decimal.Decimal `gorm:"type:decimal(14,2)" json:"amount_vat"`
	AmountGross   decimal.Decimal `gorm:"type:decimal(14,2)" json:"amount_gross"`
	Currency      string          `gorm:"size:3;default:PLN" json:"currency"`
	DocumentDate  *time.Time      `json:"document_date,omitempty"`
	SourceType    string          `gorm:"size:32" json:"source_type"`
	SourceRecID   string          `gorm:"size:255" json:"source_record_id"`
	OriginalName  string          `gorm:"size:255" json:"original_filename,omitempty"`
	FilePath      string          `gorm:"size:512" json:"file_path,omitempty"`
	DocID         string          `gorm:"size:32;index" json:"doc_id,omitempty"`
	Status        DocumentStatus  `gorm:"size:16;default:new" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DocumentMetadata is the editable side-car of a document. Exactly one row
// exists per document; the flow engine creates it together with the document
// so downstream code never needs a nil check.
type DocumentMetadata struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	DocumentID   string     `gorm:"size:36;uniqueIndex" json:"document_id"`
	Category     string     `gorm:"size:128" json:"category"`
	Description  string     `gorm:"type:text" json:"description"`
	Tags         StringList `gorm:"type:text" json:"tags"`
	CustomFields StringMap  `gorm:"type:text" json:"custom_fields"`
	EditedBy     string     `gorm:"size:36" json:"edited_by,omitempty"`
	EditedAt     *time.Time `json:"edited_at,omitempty"`
	Version      int        `gorm:"default:1" json:"version"`
}

// DocumentRelation is a typed link between two documents. The triple
// (parent, child, relation_type) is unique; acyclicity is not enforced.
type DocumentRelation struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	ParentID  string       `gorm:"size:36;index:idx_relation,unique" json:"parent_id"`
	ChildID   string       `gorm:"size:36;index:idx_relation,unique" json:"child_id"`
	Type      RelationType `gorm:"size:32;index:idx_relation,unique" json:"relation_type"`
	CreatedBy string       `gorm:"size:36" json:"created_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// DataSource is a per-project adapter configuration.
type DataSource struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	ProjectID     string          `gorm:"size:36;index" json:"project_id"`
	Direction     SourceDirection `gorm:"size:8" json:"direction"`
	SourceType    string          `gorm:"size:32" json:"source_type"`
	Name          string          `gorm:"size:255" json:"name"`
	Config        StringMap       `gorm:"type:text" json:"config"`
	Active        bool            `gorm:"default:true" json:"active"`
	AutoPull      bool            `json:"auto_pull"`
	PullInterval  int             `json:"pull_interval_min"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty"`
	LastRunStatus string          `gorm:"size:16" json:"last_run_status,omitempty"`
	LastRunCount  int             `json:"last_run_count"`
	LastRunError  string          `gorm:"type:text" json:"last_run_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ImportRun is the history record of one import execution.
type ImportRun struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SourceID     string     `gorm:"size:36;index" json:"source_id"`
	TaskID       string     `gorm:"size:36;index" json:"task_id"`
	Status       RunStatus  `gorm:"size:16" json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	TriggeredBy  string     `gorm:"size:36" json:"triggered_by"`
	Errors       StringList `gorm:"type:text" json:"errors"`
	DocsFound    int        `json:"docs_found"`
	DocsImported int        `json:"docs_imported"`
	DocsSkipped  int        `json:"docs_skipped"`
}

// ExportRun is the history record of one export execution. The serialised
// artifact is stored inline in Content, not on the filesystem.
type ExportRun struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SourceID     string     `gorm:"size:36;index" json:"source_id"`
	TaskID       string     `gorm:"size:36;index" json:"task_id"`
	Status       RunStatus  `gorm:"size:16" json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	TriggeredBy  string     `gorm:"size:36" json:"triggered_by"`
	Errors       StringList `gorm:"type:text" json:"errors"`
	DocsExported int        `json:"docs_exported"`
	DocsFailed   int        `json:"docs_failed"`
	Format       string     `gorm:"size:8" json:"format"`
	Filename     string     `gorm:"size:255" json:"filename"`
	Content      string     `gorm:"type:text" json:"-"`
}

// ResourceRouting maps a resource identifier to the owning entity's tax ID.
// Rows exist only when per-entity storage is enabled; this table lives in the
// main database.
type ResourceRouting struct {
	ResourceID   string    `gorm:"primaryKey;size:36" json:"resource_id"`
	EntityNIP    string    `gorm:"size:10;index" json:"entity_nip"`
	ResourceKind string    `gorm:"size:16" json:"resource_kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// MagicLink is a single-use login token (main database; delivery out of scope).
type MagicLink struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	IdentityID string     `gorm:"size:36;index" json:"identity_id"`
	Token      string     `gorm:"uniqueIndex;size:64" json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// MainTables lists the models stored in the main database.
func MainTables() []any {
	return []any{
		&Identity{}, &Entity{}, &EntityMember{}, &EntityDatabase{},
		&ProjectTemplate{}, &MagicLink{}, &ResourceRouting{},
	}
}

// BusinessTables lists the models stored in an entity database. In shared
// mode they live in the main database alongside MainTables.
func BusinessTables() []any {
	return []any{
		&Project{}, &ProjectAuthorization{}, &Task{}, &Document{},
		&DocumentMetadata{}, &DocumentRelation{}, &DataSource{},
		&ImportRun{}, &ExportRun{},
	}
}

// StubTables lists the models copied as write-once stubs into every entity
// database to satisfy foreign-key references.
func StubTables() []any {
	return []any{&Identity{}, &Entity{}, &EntityMember{}}
}

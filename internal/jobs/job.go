package jobs

import "time"

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusTimeout
}

// Error codes stored alongside error_text.
const (
	CodeInvalidModel        = "invalid_model"
	CodeProviderProtocol    = "provider_protocol"
	CodeProviderUnavailable = "provider_unavailable"
	CodeProviderFailed      = "provider_failed"
	CodeTimeout             = "timeout"
)

type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	Kind        Kind   `gorm:"type:varchar(16);index;not null" json:"kind"`
	OwnerID     string `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	Destination string `gorm:"type:varchar(64);not null" json:"-"`
	Provider    string `gorm:"type:varchar(32);not null" json:"provider"`
	Model       string `gorm:"type:varchar(128);not null" json:"model"`

	// JSON object, immutable once written
	RequestPayload string `gorm:"type:text;not null" json:"-"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`

	ExternalID    *string `gorm:"type:varchar(128)" json:"external_id,omitempty"`
	ResultPayload *string `gorm:"type:text" json:"-"`

	// Filled when done
	ArtifactURL *string `gorm:"type:text" json:"artifact_url,omitempty"`

	// Filled when error or timeout
	ErrorText *string `gorm:"type:text" json:"error_text,omitempty"`
	ErrorCode *string `gorm:"type:varchar(32)" json:"error_code,omitempty"`

	CreditPool string `gorm:"type:varchar(16)" json:"credit_pool,omitempty"`
	Deliver    bool   `gorm:"not null" json:"deliver"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "generation_jobs" }

// Patch is an absolute-valued partial update. Status is always written; nil
// fields are left untouched.
type Patch struct {
	Status        Status
	ExternalID    *string
	ResultPayload *string
	ArtifactURL   *string
	ErrorText     *string
	ErrorCode     *string
}

func (p Patch) columns(now time.Time) map[string]any {
	cols := map[string]any{
		"status":     p.Status,
		"updated_at": now,
	}
	if p.ExternalID != nil {
		cols["external_id"] = *p.ExternalID
	}
	if p.ResultPayload != nil {
		cols["result_payload"] = *p.ResultPayload
	}
	if p.ArtifactURL != nil {
		cols["artifact_url"] = *p.ArtifactURL
	}
	if p.ErrorText != nil {
		cols["error_text"] = *p.ErrorText
	}
	if p.ErrorCode != nil {
		cols["error_code"] = *p.ErrorCode
	}
	return cols
}

func strPtr(s string) *string { return &s }

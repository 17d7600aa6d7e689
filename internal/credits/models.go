package credits

import "time"

// User is the balance row of one requesting account. Rows are created on
// first reference and never deleted.
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	FreeCredits int       `gorm:"not null;default:0" json:"free_credits"`
	PaidCredits int       `gorm:"not null;default:0" json:"paid_credits"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Pool names which balance paid for an authorization.
type Pool string

const (
	PoolNone       Pool = ""
	PoolPaid       Pool = "paid"
	PoolFree       Pool = "free"
	PoolPrivileged Pool = "privileged"
)

// Granted reports whether the authorization succeeded.
func (p Pool) Granted() bool { return p != PoolNone }

func (p Pool) column() string {
	switch p {
	case PoolPaid:
		return "paid_credits"
	case PoolFree:
		return "free_credits"
	}
	return ""
}

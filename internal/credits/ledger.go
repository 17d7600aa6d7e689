package credits

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/ai-creator/internal/metrics"
)

// ErrInsufficientCredit is returned to callers when an owner has no credit left.
var ErrInsufficientCredit = errors.New("insufficient credit")

// spendOrder is the order pools are drawn from.
var spendOrder = []Pool{PoolPaid, PoolFree}

type Ledger struct {
	db          *gorm.DB
	initialFree int
	privileged  map[string]struct{}
}

func NewLedger(db *gorm.DB, initialFree int, privileged map[string]struct{}) *Ledger {
	if initialFree < 0 {
		initialFree = 0
	}
	if privileged == nil {
		privileged = map[string]struct{}{}
	}
	return &Ledger{db: db, initialFree: initialFree, privileged: privileged}
}

func (l *Ledger) IsPrivileged(ownerID string) bool {
	_, ok := l.privileged[strings.TrimSpace(ownerID)]
	return ok
}

// Authorize spends one credit for ownerID and reports the pool it came from.
// PoolNone means denied. Only storage failures produce an error.
func (l *Ledger) Authorize(ctx context.Context, ownerID string) (Pool, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		metrics.CreditAuthorization("denied")
		return PoolNone, nil
	}
	if l.IsPrivileged(ownerID) {
		metrics.CreditAuthorization(string(PoolPrivileged))
		return PoolPrivileged, nil
	}

	charged := PoolNone
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureUser(tx, ownerID); err != nil {
			return err
		}
		for _, pool := range spendOrder {
			col := pool.column()
			// conditional decrement: the row is only touched while the pool is positive
			res := tx.Model(&User{}).
				Where("id = ? AND "+col+" > 0", ownerID).
				Updates(map[string]any{
					col:          gorm.Expr(col + " - 1"),
					"updated_at": time.Now(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				charged = pool
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return PoolNone, err
	}

	if charged.Granted() {
		metrics.CreditAuthorization(string(charged))
	} else {
		metrics.CreditAuthorization("denied")
	}
	return charged, nil
}

// Get returns the balance row, creating it with the signup credit if needed.
func (l *Ledger) Get(ctx context.Context, ownerID string) (*User, error) {
	ownerID = strings.TrimSpace(ownerID)
	var u User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureUser(tx, ownerID); err != nil {
			return err
		}
		return tx.First(&u, "id = ?", ownerID).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (l *Ledger) ensureUser(tx *gorm.DB, ownerID string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&User{ID: ownerID, FreeCredits: l.initialFree}).Error
}

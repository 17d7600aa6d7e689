package credits

import (
	"context"
	"fmt"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id string, free, paid int) {
	t.Helper()
	if err := db.Create(&User{ID: id, FreeCredits: free, PaidCredits: paid}).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	// gorm skips zero values on create when a default tag is present
	if err := db.Model(&User{}).Where("id = ?", id).
		Updates(map[string]any{"free_credits": free, "paid_credits": paid}).Error; err != nil {
		t.Fatalf("seed balances %s: %v", id, err)
	}
}

func balance(t *testing.T, db *gorm.DB, id string) User {
	t.Helper()
	var u User
	if err := db.First(&u, "id = ?", id).Error; err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return u
}

func TestAuthorize_LazyCreateWithSignupCredits(t *testing.T) {
	db := openTestDB(t)
	l := NewLedger(db, 2, nil)

	pool, err := l.Authorize(context.Background(), "100")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if pool != PoolFree {
		t.Fatalf("expected free pool, got %q", pool)
	}
	if u := balance(t, db, "100"); u.FreeCredits != 1 || u.PaidCredits != 0 {
		t.Fatalf("unexpected balance after first spend: %+v", u)
	}
}

func TestAuthorize_PaidBeforeFree(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1", 1, 2)
	l := NewLedger(db, 2, nil)
	ctx := context.Background()

	want := []Pool{PoolPaid, PoolPaid, PoolFree, PoolNone, PoolNone}
	for i, w := range want {
		got, err := l.Authorize(ctx, "u1")
		if err != nil {
			t.Fatalf("authorize #%d: %v", i, err)
		}
		if got != w {
			t.Fatalf("authorize #%d: got %q, want %q", i, got, w)
		}
	}

	u := balance(t, db, "u1")
	if u.FreeCredits != 0 || u.PaidCredits != 0 {
		t.Fatalf("expected empty balances, got %+v", u)
	}
}

func TestAuthorize_PrivilegedNeverMutates(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "admin", 0, 3)
	l := NewLedger(db, 2, map[string]struct{}{"admin": {}, "ghost": {}})

	for i := 0; i < 10; i++ {
		pool, err := l.Authorize(context.Background(), "admin")
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if pool != PoolPrivileged {
			t.Fatalf("expected privileged, got %q", pool)
		}
	}
	if u := balance(t, db, "admin"); u.PaidCredits != 3 || u.FreeCredits != 0 {
		t.Fatalf("privileged balance mutated: %+v", u)
	}

	if _, err := l.Authorize(context.Background(), "ghost"); err != nil {
		t.Fatalf("authorize ghost: %v", err)
	}
	var n int64
	db.Model(&User{}).Where("id = ?", "ghost").Count(&n)
	if n != 0 {
		t.Fatalf("privileged owner should not get a balance row")
	}
}

func TestAuthorize_EmptyOwnerDenied(t *testing.T) {
	db := openTestDB(t)
	l := NewLedger(db, 2, nil)
	pool, err := l.Authorize(context.Background(), "  ")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if pool.Granted() {
		t.Fatalf("empty owner must be denied")
	}
}

func TestAuthorize_ConcurrentLastCredit(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "race", 1, 0)
	l := NewLedger(db, 2, nil)

	const callers = 8
	results := make([]Pool, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := l.Authorize(context.Background(), "race")
			if err != nil {
				t.Errorf("authorize %d: %v", i, err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, p := range results {
		if p.Granted() {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("expected exactly one grant, got %d (%v)", granted, results)
	}
	if u := balance(t, db, "race"); u.FreeCredits != 0 || u.PaidCredits != 0 {
		t.Fatalf("unexpected balance: %+v", u)
	}
}

func TestAuthorize_NeverNegative(t *testing.T) {
	db := openTestDB(t)
	l := NewLedger(db, 3, nil)
	ctx := context.Background()

	granted := 0
	for i := 0; i < 20; i++ {
		p, err := l.Authorize(ctx, "n")
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if p.Granted() {
			granted++
		}
		u := balance(t, db, "n")
		if u.FreeCredits < 0 || u.PaidCredits < 0 {
			t.Fatalf("negative balance after %d calls: %+v", i+1, u)
		}
	}
	if granted != 3 {
		t.Fatalf("expected 3 grants from signup credits, got %d", granted)
	}
}

func TestGet_CreatesUser(t *testing.T) {
	db := openTestDB(t)
	l := NewLedger(db, 2, nil)

	u, err := l.Get(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if u.FreeCredits != 2 || u.PaidCredits != 0 {
		t.Fatalf("unexpected new user: %+v", u)
	}

	again, err := l.Get(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.FreeCredits != 2 {
		t.Fatalf("second lookup must not reset credits: %+v", again)
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/beat-store/internal/adapter/storage"
	"github.com/rl1809/beat-store/internal/clock"
	"github.com/rl1809/beat-store/internal/core/service"
)

const (
	mysqlDSN      = "root:password@tcp(localhost:3306)/beatstore?parseTime=true"
	beatID        = 9001
	bundleID      = 9100
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	if err := seed(ctx, db); err != nil {
		log.Fatalf("failed to seed test data: %v", err)
	}

	store := storage.NewMySQLAdapter(db)
	clk := clock.NewSystem()
	holds := service.NewHoldService(store, clk)
	bundles := service.NewBundleService(store, holds, clk)

	singleBeatStorm(ctx, holds)
	bundleStorm(ctx, bundles)
}

// singleBeatStorm races many holders for one exclusive beat. Exactly one
// should be granted the hold.
func singleBeatStorm(ctx context.Context, holds *service.HoldService) {
	var granted, denied atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(holderID int64) {
			defer wg.Done()
			if err := holds.Acquire(ctx, beatID, holderID); err == nil {
				granted.Add(1)
			} else {
				denied.Add(1)
			}
		}(int64(1000 + i))
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== SINGLE BEAT STORM ==========")
	fmt.Printf("Requests:  %d\n", totalRequests)
	fmt.Printf("Granted:   %d\n", granted.Load())
	fmt.Printf("Denied:    %d\n", denied.Load())
	fmt.Printf("Duration:  %v\n", elapsed)

	if granted.Load() == 1 && denied.Load() == int32(totalRequests-1) {
		fmt.Println("PASS: exactly one holder won the beat")
	} else {
		fmt.Printf("FAIL: expected 1 grant / %d denials, got %d/%d\n",
			totalRequests-1, granted.Load(), denied.Load())
	}
}

// bundleStorm races many holders for a bundle with overlapping exclusive
// members. At most one bundle acquisition should succeed, and losers must
// leave no partial holds behind.
func bundleStorm(ctx context.Context, bundles *service.BundleService) {
	var granted, denied, retriesExhausted atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(holderID int64) {
			defer wg.Done()
			err := bundles.AcquireBundle(ctx, bundleID, holderID)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, context.DeadlineExceeded):
				retriesExhausted.Add(1)
			default:
				denied.Add(1)
			}
		}(int64(2000 + i))
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== BUNDLE STORM ==========")
	fmt.Printf("Requests:  %d\n", totalRequests)
	fmt.Printf("Granted:   %d\n", granted.Load())
	fmt.Printf("Denied:    %d\n", denied.Load())
	fmt.Printf("Timed out: %d\n", retriesExhausted.Load())
	fmt.Printf("Duration:  %v\n", elapsed)

	if granted.Load() <= 1 {
		fmt.Println("PASS: at most one holder won the bundle")
	} else {
		fmt.Printf("FAIL: %d holders won the same bundle\n", granted.Load())
	}
}

func seed(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`DELETE FROM bundle_beats WHERE bundle_id = ?`,
		`DELETE FROM bundles WHERE id = ?`,
		`DELETE FROM beats WHERE id IN (?, ?, ?)`,
	}
	if _, err := db.ExecContext(ctx, stmts[0], bundleID); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmts[1], bundleID); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmts[2], beatID, beatID+1, beatID+2); err != nil {
		return err
	}

	for _, id := range []int64{beatID, beatID + 1, beatID + 2} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO beats (id, title, genre, mood, price, is_exclusive) VALUES (?, ?, 'trap', 'dark', 299.00, 1)`,
			id, fmt.Sprintf("storm-beat-%d", id)); err != nil {
			return err
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO bundles (id, name, bundle_price, is_active) VALUES (?, 'storm-bundle', 699.00, 1)`,
		bundleID); err != nil {
		return err
	}
	for _, id := range []int64{beatID + 1, beatID + 2} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO bundle_beats (bundle_id, beat_id) VALUES (?, ?)`,
			bundleID, id); err != nil {
			return err
		}
	}
	return nil
}

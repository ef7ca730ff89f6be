package health

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestRunAll(t *testing.T) {
	boom := errors.New("boom")
	results := RunAll(context.Background(), map[string]Checker{
		"storage":  NewStorageChecker(fakePinger{err: boom}),
		"database": CheckerFunc(func(context.Context) error { return nil }),
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "database" || results[0].Err != nil {
		t.Errorf("unexpected database result: %+v", results[0])
	}
	if results[1].Name != "storage" || !errors.Is(results[1].Err, boom) {
		t.Errorf("unexpected storage result: %+v", results[1])
	}
}

func TestRunAll_Empty(t *testing.T) {
	if got := RunAll(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestDBChecker_Unreachable(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://panotour@127.0.0.1:1/panotour?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	err = NewDBChecker(db).HealthCheck(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "database unreachable") {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// TestRedisChecker_Unreachable points at a closed port so the ping fails.
func TestRedisChecker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:9999",
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	if err := NewRedisChecker(client).HealthCheck(context.Background()); err == nil {
		t.Error("expected error from unreachable Redis")
	}
}

// README: Scenario checks: environment, ride creation, holds, negotiation ceiling, accept race and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// rideID is created by the first ride case and reused by later ones.
	rideID string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

// actor is a dev-auth identity sent as X-User-ID / X-User-Role.
type actor struct {
	id   string
	role string
}

var (
	passenger = actor{id: "bench-passenger", role: "passenger"}
	driverA   = actor{id: "bench-driver-a", role: "driver"}
	driverB   = actor{id: "bench-driver-b", role: "driver"}
)

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.call(ctx, http.MethodGet, "/health", actor{}, nil)
			return expect(status, latency, err, http.StatusOK)
		}},

		{Name: "Ride: create", Run: func(ctx context.Context, r *Runner) Result {
			id, res := r.createRide(ctx)
			r.rideID = id
			return res
		}},
		{Name: "Ride: create without price -> 400", Run: func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/rides", passenger, map[string]any{})
			return expect(status, latency, err, http.StatusBadRequest)
		}},
		{Name: "Queue: driver sees new ride", Run: r.needsRide(func(ctx context.Context, r *Runner) Result {
			status, body, latency, err := r.call(ctx, http.MethodGet, "/api/driver/queue", driverA, nil)
			if res := expect(status, latency, err, http.StatusOK); res.Status != StatusPass {
				return res
			}
			if !strings.Contains(string(body), r.rideID) {
				return Result{Status: StatusFail, Latency: latency, Note: "ride missing from queue"}
			}
			return Result{Status: StatusPass, Latency: latency}
		})},

		{Name: "Hold: first driver holds", Run: r.needsRide(func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/driver/holds", driverA, map[string]any{"ride_id": r.rideID, "minutes": 5})
			return expect(status, latency, err, http.StatusCreated)
		})},
		{Name: "Hold: second driver conflicts", Run: r.needsRide(func(ctx context.Context, r *Runner) Result {
			status, body, latency, err := r.call(ctx, http.MethodPost, "/api/driver/holds", driverB, map[string]any{"ride_id": r.rideID})
			return expectCode(status, body, latency, err, http.StatusConflict, "hold_conflict")
		})},
		{Name: "Hold: redis has the ride key", Run: r.needsRide(func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: StatusSkip, Note: "redis not configured"}
			}
			n, err := r.redis.Exists(ctx, "hold:ride:"+r.rideID).Result()
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			if n != 1 {
				return Result{Status: StatusFail, Note: "no active hold key"}
			}
			return Result{Status: StatusPass}
		})},
		{Name: "Hold: release is idempotent", Run: r.needsRide(func(ctx context.Context, r *Runner) Result {
			for i := 0; i < 2; i++ {
				status, _, latency, err := r.call(ctx, http.MethodDelete, "/api/driver/holds/"+r.rideID, driverA, nil)
				if res := expect(status, latency, err, http.StatusNoContent); res.Status != StatusPass {
					return res
				}
			}
			return Result{Status: StatusPass}
		})},

		{Name: "Negotiation: two rounds then ceiling", Run: r.needsRide(negotiationCeiling)},
		{Name: "Negotiation: accept negotiated price", Run: r.needsRide(func(ctx context.Context, r *Runner) Result {
			status, _, latency, err := r.call(ctx, http.MethodPost, "/api/driver/rides/"+r.rideID+"/accept-negotiated", driverA, nil)
			return expect(status, latency, err, http.StatusOK)
		})},
		{Name: "Consistency: status and version persisted", Run: r.needsRide(checkAssignedRow)},

		{Name: "Concurrency: accept race has one winner", Run: acceptRace},

		{Name: "Perf: driver position throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, http.MethodPut, "/api/driver/position", driverA, map[string]any{"lat": 25.033, "lng": 121.565})
		}},
		{Name: "Perf: queue read throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, http.MethodGet, "/api/driver/queue?lat=25.033&lng=121.565", driverB, nil)
		}},
	}
}

// needsRide skips a case when ride creation failed earlier.
func (r *Runner) needsRide(run func(ctx context.Context, r *Runner) Result) func(ctx context.Context, r *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.rideID == "" {
			return Result{Status: StatusSkip, Note: "no ride created"}
		}
		return run(ctx, r)
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if _, err := r.db.Exec(ctx, string(sql)); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

func negotiationCeiling(ctx context.Context, r *Runner) Result {
	steps := []struct {
		who  actor
		path string
		body map[string]any
		want int
	}{
		{driverA, "/api/driver/counters", map[string]any{"ride_id": r.rideID, "price": "14"}, http.StatusCreated},
		{passenger, "/api/rides/" + r.rideID + "/counter", map[string]any{"driver_id": driverA.id, "price": "13"}, http.StatusCreated},
	}
	var total time.Duration
	for i, s := range steps {
		status, body, latency, err := r.call(ctx, http.MethodPost, s.path, s.who, s.body)
		total += latency
		if res := expect(status, latency, err, s.want); res.Status != StatusPass {
			res.Note = fmt.Sprintf("round %d: %s %s", i+1, res.Note, body)
			return res
		}
	}
	status, body, latency, err := r.call(ctx, http.MethodPost, "/api/driver/counters", driverA, map[string]any{"ride_id": r.rideID, "price": "13.5"})
	res := expectCode(status, body, latency, err, http.StatusConflict, "negotiation_ceiling")
	res.Latency = total + latency
	return res
}

func checkAssignedRow(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	var status, price string
	var version int
	err := r.db.QueryRow(ctx,
		"SELECT status, status_version, final_price::text FROM ride_requests WHERE id=$1",
		r.rideID,
	).Scan(&status, &version, &price)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != "assigned" || version < 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("status=%s version=%d", status, version)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("version=%d price=%s", version, price)}
}

// acceptRace fires concurrent plain accepts from distinct drivers at one
// fresh ride; exactly one may succeed.
func acceptRace(ctx context.Context, r *Runner) Result {
	rideID, res := r.createRide(ctx)
	if res.Status != StatusPass {
		return res
	}
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		success atomic.Int64
		lost    atomic.Int64
		other   atomic.Int64
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			d := actor{id: fmt.Sprintf("bench-racer-%d", i), role: "driver"}
			status, _, _, err := r.call(ctx, http.MethodPost, "/api/driver/bids", d, map[string]any{"ride_id": rideID, "bid_type": "accept"})
			switch {
			case err != nil:
				other.Add(1)
			case status == http.StatusCreated:
				success.Add(1)
			case status == http.StatusConflict:
				lost.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	begin := time.Now()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", success.Load(), lost.Load(), other.Load())
	if success.Load() != 1 || other.Load() > 0 {
		return Result{Status: StatusFail, Latency: time.Since(begin), Note: note}
	}
	return Result{Status: StatusPass, Latency: time.Since(begin), Note: note}
}

func (r *Runner) createRide(ctx context.Context) (string, Result) {
	status, body, latency, err := r.call(ctx, http.MethodPost, "/api/rides", passenger, map[string]any{
		"origin":       map[string]any{"lat": 25.033, "lng": 121.565, "address": "Taipei 101"},
		"destination":  map[string]any{"lat": 25.0478, "lng": 121.5318, "address": "Taipei Main Station"},
		"price":        "12",
		"vehicle_type": "any",
	})
	res := expect(status, latency, err, http.StatusCreated)
	if res.Status != StatusPass {
		return "", res
	}
	var ride struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ride); err != nil || ride.ID == "" {
		return "", Result{Status: StatusFail, Latency: latency, Note: "response has no ride id"}
	}
	res.Note = "ride=" + ride.ID
	return ride.ID, res
}

func (r *Runner) call(ctx context.Context, method, path string, who actor, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if who.id != "" {
		req.Header.Set("X-User-ID", who.id)
		req.Header.Set("X-User-Role", who.role)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func expect(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: StatusFail, Latency: latency, Note: err.Error()}
	}
	if status != want {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

// expectCode also checks the error code in the JSON body.
func expectCode(status int, body []byte, latency time.Duration, err error, want int, code string) Result {
	res := expect(status, latency, err, want)
	if res.Status != StatusPass {
		return res
	}
	var e struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(body, &e) != nil || e.Code != code {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("code=%q want=%q", e.Code, code)}
	}
	return res
}

func (r *Runner) perfLoad(ctx context.Context, method, path string, who actor, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, method, path, who, payload)
				if err != nil || status >= 400 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

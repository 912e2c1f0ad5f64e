// README: Smoke checks for the ride request lifecycle, presence, event log, and accept races.
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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// carried between cases
	requestID string
	winner    string
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
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
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
	return results
}

func pass(note string) Result { return Result{Status: statusPass, Note: note} }

func fail(format string, a ...any) Result {
	return Result{Status: statusFail, Note: fmt.Sprintf(format, a...)}
}

func skip(note string) Result { return Result{Status: statusSkip, Note: note} }

func (r *Runner) helperToken(i int) (uid, token string) {
	uid = fmt.Sprintf("%s-%d", r.cfg.HelperPrefix, i)
	return uid, uid + ":helper"
}

func newRequestBody() map[string]any {
	return map[string]any{
		"customerName":     "Bench Customer",
		"serviceType":      "tow",
		"location":         map[string]any{"lat": 24.8607, "lng": 67.0011},
		"vehicleDetails":   "Toyota Corolla",
		"issueDescription": "flat tyre on the highway",
	}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return skip("apply-migration=false")
			}
			if r.db == nil {
				return fail("db not configured")
			}
			sql, err := os.ReadFile(r.cfg.MigrationPath)
			if err != nil {
				return fail("%v", err)
			}
			for _, s := range splitSQL(string(sql)) {
				if _, err := r.db.Exec(ctx, s); err != nil {
					return fail("%v", err)
				}
			}
			return pass("")
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("db not configured")
			}
			tables, err := extractTables(r.cfg.MigrationPath)
			if err != nil {
				return fail("%v", err)
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return fail("%v", err)
				}
				if !exists {
					return fail("missing table: %s", t)
				}
			}
			return pass(fmt.Sprintf("tables=%d", len(tables)))
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			code, latency, _, err := r.call(ctx, http.MethodGet, "/health", nil, "")
			if err != nil {
				return fail("%v", err)
			}
			return expect(code, latency, http.StatusOK)
		}},
		{Name: "Request: unauthenticated -> 401", Run: func(ctx context.Context, r *Runner) Result {
			code, latency, _, err := r.call(ctx, http.MethodPost, "/api/ride-requests", newRequestBody(), "")
			if err != nil {
				return fail("%v", err)
			}
			return expect(code, latency, http.StatusUnauthorized)
		}},
		{Name: "Request: missing fields -> 400", Run: func(ctx context.Context, r *Runner) Result {
			body := newRequestBody()
			delete(body, "vehicleDetails")
			code, latency, _, err := r.call(ctx, http.MethodPost, "/api/ride-requests", body, r.cfg.CustomerToken)
			if err != nil {
				return fail("%v", err)
			}
			return expect(code, latency, http.StatusBadRequest)
		}},
		{Name: "Request: create", Run: func(ctx context.Context, r *Runner) Result {
			id, latency, err := r.create(ctx)
			if err != nil {
				return fail("%v", err)
			}
			r.requestID = id
			return Result{Status: statusPass, Latency: latency, Note: "id=" + id}
		}},
		{Name: "Concurrency: many helpers accept one request", Run: func(ctx context.Context, r *Runner) Result {
			if r.requestID == "" {
				return skip("no request created")
			}
			return r.concurrentAccept(ctx, r.requestID)
		}},
		{Name: "Lifecycle: winner starts and completes", Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return skip("no accepted request")
			}
			token := r.winner + ":helper"
			path := "/api/ride-requests/" + r.requestID + "/status"
			for _, s := range []string{"in_progress", "completed"} {
				code, _, body, err := r.call(ctx, http.MethodPost, path, map[string]any{"status": s}, token)
				if err != nil {
					return fail("%v", err)
				}
				if code != http.StatusOK {
					return fail("%s: status=%d %s", s, code, body)
				}
			}
			code, latency, _, err := r.call(ctx, http.MethodPost, path, map[string]any{"status": "cancelled"}, r.cfg.CustomerToken)
			if err != nil {
				return fail("%v", err)
			}
			return expect(code, latency, http.StatusConflict)
		}},
		{Name: "Concurrency: cancel vs accept", Run: func(ctx context.Context, r *Runner) Result {
			return r.cancelVersusAccept(ctx)
		}},
		{Name: "Events: admin lists transitions", Run: func(ctx context.Context, r *Runner) Result {
			if r.requestID == "" {
				return skip("no request created")
			}
			code, latency, body, err := r.call(ctx, http.MethodGet, "/api/ride-requests/"+r.requestID+"/events", nil, r.cfg.AdminToken)
			if err != nil {
				return fail("%v", err)
			}
			if code != http.StatusOK {
				return fail("status=%d", code)
			}
			var out struct {
				Events []json.RawMessage `json:"events"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return fail("decode: %v", err)
			}
			if r.db != nil && len(out.Events) < 4 {
				return fail("events=%d, want created/accepted/in_progress/completed", len(out.Events))
			}
			return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("events=%d", len(out.Events))}
		}},
		{Name: "Presence: helper goes online", Run: func(ctx context.Context, r *Runner) Result {
			uid, token := r.helperToken(0)
			code, latency, _, err := r.call(ctx, http.MethodPut, "/api/helpers/"+uid+"/presence", map[string]any{
				"lat": 24.86, "lng": 67.0, "serviceTypes": []string{"tow", "fuel"},
			}, token)
			if err != nil {
				return fail("%v", err)
			}
			return expect(code, latency, http.StatusOK)
		}},
		{Name: "Presence: invalid coords -> 400", Run: func(ctx context.Context, r *Runner) Result {
			uid, token := r.helperToken(0)
			code, latency, _, err := r.call(ctx, http.MethodPut, "/api/helpers/"+uid+"/presence", map[string]any{
				"lat": 123.0, "lng": 456.0,
			}, token)
			if err != nil {
				return fail("%v", err)
			}
			return expect(code, latency, http.StatusBadRequest)
		}},
		{Name: "Presence: stored in redis geo set", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not configured")
			}
			uid, _ := r.helperToken(0)
			pos, err := r.redis.GeoPos(ctx, "geo:helpers", uid).Result()
			if err != nil {
				return fail("%v", err)
			}
			if len(pos) == 0 || pos[0] == nil {
				return fail("helper %s missing from geo:helpers", uid)
			}
			return pass(fmt.Sprintf("lat=%.4f lng=%.4f", pos[0].Latitude, pos[0].Longitude))
		}},
		{Name: "Perf: create throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.load(ctx, func(ctx context.Context) (int, error) {
				code, _, _, err := r.call(ctx, http.MethodPost, "/api/ride-requests", newRequestBody(), r.cfg.CustomerToken)
				return code, err
			})
		}},
		{Name: "Perf: customer location throughput", Run: func(ctx context.Context, r *Runner) Result {
			id, _, err := r.create(ctx)
			if err != nil {
				return fail("%v", err)
			}
			path := "/api/ride-requests/" + id + "/locations"
			return r.load(ctx, func(ctx context.Context) (int, error) {
				code, _, _, err := r.call(ctx, http.MethodPost, path, map[string]any{
					"customerLocation": map[string]any{"lat": 24.8607, "lng": 67.0011},
				}, r.cfg.CustomerToken)
				return code, err
			})
		}},
	}
}

// call sends body as JSON with an optional dev/Firebase bearer token.
func (r *Runner) call(ctx context.Context, method, path string, body any, token string) (int, time.Duration, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, time.Since(start), out, nil
}

func (r *Runner) create(ctx context.Context) (string, time.Duration, error) {
	code, latency, body, err := r.call(ctx, http.MethodPost, "/api/ride-requests", newRequestBody(), r.cfg.CustomerToken)
	if err != nil {
		return "", 0, err
	}
	if code != http.StatusCreated {
		return "", latency, fmt.Errorf("create: status=%d %s", code, body)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", latency, fmt.Errorf("create: bad body %s", body)
	}
	return out.ID, latency, nil
}

func expect(code int, latency time.Duration, want int) Result {
	note := fmt.Sprintf("status=%d", code)
	if code != want {
		return Result{Status: statusFail, Latency: latency, Note: note + fmt.Sprintf(" want=%d", want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: note}
}

// concurrentAccept releases every helper at once; exactly one must win and
// every other must see 409.
func (r *Runner) concurrentAccept(ctx context.Context, id string) Result {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		start    = make(chan struct{})
		winners  []string
		conflict int
		other    []int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid, token := r.helperToken(i)
			<-start
			code, _, _, err := r.call(ctx, http.MethodPost, "/api/ride-requests/"+id+"/accept", map[string]any{"helperName": uid}, token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case code == http.StatusOK:
				winners = append(winners, uid)
			case code == http.StatusConflict:
				conflict++
			default:
				other = append(other, code)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		return fail("winners=%d conflicts=%d other=%v", len(winners), conflict, other)
	}
	if len(other) > 0 {
		return fail("unexpected statuses %v", other)
	}
	r.winner = winners[0]
	return pass(fmt.Sprintf("winner=%s conflicts=%d", r.winner, conflict))
}

func (r *Runner) cancelVersusAccept(ctx context.Context) Result {
	id, _, err := r.create(ctx)
	if err != nil {
		return fail("%v", err)
	}
	_, token := r.helperToken(0)
	var (
		wg                     sync.WaitGroup
		start                  = make(chan struct{})
		acceptCode, cancelCode int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		acceptCode, _, _, _ = r.call(ctx, http.MethodPost, "/api/ride-requests/"+id+"/accept", nil, token)
	}()
	go func() {
		defer wg.Done()
		<-start
		cancelCode, _, _, _ = r.call(ctx, http.MethodPost, "/api/ride-requests/"+id+"/status", map[string]any{"status": "cancelled"}, r.cfg.CustomerToken)
	}()
	close(start)
	wg.Wait()

	code, _, body, err := r.call(ctx, http.MethodGet, "/api/ride-requests/"+id, nil, r.cfg.AdminToken)
	if err != nil || code != http.StatusOK {
		return fail("get: status=%d err=%v", code, err)
	}
	var got struct {
		Status   string  `json:"status"`
		HelperID *string `json:"helperId"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		return fail("decode: %v", err)
	}
	note := fmt.Sprintf("accept=%d cancel=%d final=%s", acceptCode, cancelCode, got.Status)
	switch got.Status {
	case "cancelled":
		if cancelCode != http.StatusOK || (acceptCode != http.StatusOK && acceptCode != http.StatusConflict) {
			return fail("%s", note)
		}
		if acceptCode == http.StatusConflict && got.HelperID != nil {
			return fail("%s: losing accept left helper %s", note, *got.HelperID)
		}
	case "accepted":
		if acceptCode != http.StatusOK || cancelCode != http.StatusConflict {
			return fail("%s", note)
		}
	default:
		return fail("%s", note)
	}
	return pass(note)
}

// load runs fn from Concurrency workers for Duration and reports throughput.
func (r *Runner) load(ctx context.Context, fn func(context.Context) (int, error)) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu                  sync.Mutex
		wg                  sync.WaitGroup
		count, errs, non2xx int64
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, err := fn(ctx)
				mu.Lock()
				switch {
				case err != nil:
					errs++
				case code < 200 || code > 299:
					non2xx++
				default:
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return fail("no requests completed (errors=%d non2xx=%d)", errs, non2xx)
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return pass(fmt.Sprintf("rps=%.1f errors=%d non2xx=%d", rps, errs, non2xx))
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

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

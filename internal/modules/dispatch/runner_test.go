package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type sentNotice struct {
	token  string
	notice Notice
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	ch   chan sentNotice
	err  error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan sentNotice, 64)}
}

func (n *recordingNotifier) NotifyNewRequest(_ context.Context, token string, notice Notice) error {
	n.mu.Lock()
	n.sent = append(n.sent, sentNotice{token, notice})
	err := n.err
	n.mu.Unlock()
	n.ch <- sentNotice{token, notice}
	return err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	requests *riderequest.Service
	helpers  *location.Service
	notifier *recordingNotifier
	ledger   *MemoryLedger
	cancel   context.CancelFunc
	done     chan error
}

func startRunner(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		requests: riderequest.NewService(riderequest.NewMemoryStore()),
		helpers:  location.NewService(location.NewMemoryStore(), nil),
		notifier: newRecordingNotifier(),
		ledger:   NewMemoryLedger(),
		done:     make(chan error, 1),
	}
	ctx := context.Background()
	online := []location.HelperPresence{
		{HelperID: "tow-near", Position: types.Location{Lat: 24.8650, Lng: 67.0050}, DeviceToken: "tok-tow-near", ServiceTypes: []string{"tow"}},
		{HelperID: "fuel-near", Position: types.Location{Lat: 24.8620, Lng: 67.0020}, DeviceToken: "tok-fuel-near", ServiceTypes: []string{"fuel"}},
		{HelperID: "tow-mid", Position: types.Location{Lat: 24.9000, Lng: 67.0500}, DeviceToken: "tok-tow-mid", ServiceTypes: []string{"tow", "battery"}},
		{HelperID: "tow-far", Position: types.Location{Lat: 25.3960, Lng: 68.3578}, DeviceToken: "tok-tow-far", ServiceTypes: []string{"tow"}},
	}
	for _, p := range online {
		if err := f.helpers.GoOnline(ctx, p); err != nil {
			t.Fatalf("go online: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	runner := NewRunner(f.requests, f.helpers, f.ledger, f.notifier, cfg, nil)
	go func() { f.done <- runner.Run(runCtx) }()
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) stop() {
	f.cancel()
	<-f.done
	f.done <- nil // let a second stop return
}

func (f *fixture) create(t *testing.T, st riderequest.ServiceType) types.ID {
	t.Helper()
	id, err := f.requests.Create(context.Background(), riderequest.CreateCommand{
		CustomerID:       "c1",
		ServiceType:      st,
		Location:         &types.Location{Lat: 24.8607, Lng: 67.0011},
		VehicleDetails:   "Civic",
		IssueDescription: "flat tire",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func (f *fixture) waitNotices(t *testing.T, n int) []sentNotice {
	t.Helper()
	var out []sentNotice
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case s := <-f.notifier.ch:
			out = append(out, s)
		case <-deadline:
			t.Fatalf("timed out waiting for %d notices, got %d", n, len(out))
		}
	}
	return out
}

func TestRunnerNotifiesNearbyHelpersForServiceType(t *testing.T) {
	f := startRunner(t, Config{RadiusKm: 10, MaxHelpers: 5})
	id := f.create(t, riderequest.ServiceTow)

	got := f.waitNotices(t, 2)
	if got[0].token != "tok-tow-near" || got[1].token != "tok-tow-mid" {
		t.Fatalf("unexpected recipients: %q, %q", got[0].token, got[1].token)
	}
	for _, s := range got {
		if s.notice.RequestID != id || s.notice.ServiceType != "tow" {
			t.Fatalf("unexpected notice: %+v", s.notice)
		}
	}

	notified, err := f.ledger.Notified(context.Background(), id)
	if err != nil {
		t.Fatalf("notified: %v", err)
	}
	if len(notified) != 2 || notified[0] != "tow-near" || notified[1] != "tow-mid" {
		t.Fatalf("ledger recorded %v", notified)
	}

	// further snapshots of the same pending request must not notify again
	if err := f.requests.UpdateLocations(context.Background(), riderequest.UpdateLocationsCommand{
		RequestID:        id,
		CustomerLocation: &types.Location{Lat: 24.861, Lng: 67.002},
	}); err != nil {
		t.Fatalf("update locations: %v", err)
	}
	f.create(t, riderequest.ServiceFuel)
	f.waitNotices(t, 1)
	time.Sleep(50 * time.Millisecond)
	if c := f.notifier.count(); c != 3 {
		t.Fatalf("expected 3 notices in total, got %d", c)
	}
}

func TestRunnerCapsHelpers(t *testing.T) {
	f := startRunner(t, Config{RadiusKm: 10, MaxHelpers: 1})
	f.create(t, riderequest.ServiceTow)
	got := f.waitNotices(t, 1)
	if got[0].token != "tok-tow-near" {
		t.Fatalf("expected closest helper, got %q", got[0].token)
	}
	time.Sleep(50 * time.Millisecond)
	if c := f.notifier.count(); c != 1 {
		t.Fatalf("expected 1 notice, got %d", c)
	}
}

func TestRunnerContinuesAfterNotifyFailure(t *testing.T) {
	f := startRunner(t, Config{RadiusKm: 10, MaxHelpers: 5})
	f.notifier.mu.Lock()
	f.notifier.err = errors.New("unregistered token")
	f.notifier.mu.Unlock()

	f.create(t, riderequest.ServiceTow)
	f.waitNotices(t, 2)
}

func TestRunnerStopsWithContext(t *testing.T) {
	f := startRunner(t, Config{})
	f.cancel()
	select {
	case err := <-f.done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
		f.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
}

func TestMemoryLedgerDeduplicates(t *testing.T) {
	runLedger(t, NewMemoryLedger(), "")
}

func TestRedisLedgerDeduplicates(t *testing.T) {
	addr := os.Getenv("ROADHELPER_TEST_REDIS")
	if addr == "" {
		t.Skip("ROADHELPER_TEST_REDIS not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	runLedger(t, NewRedisLedger(rdb), fmt.Sprintf("t%d_", time.Now().UnixNano()))
}

func runLedger(t *testing.T, l Ledger, prefix string) {
	t.Helper()
	ctx := context.Background()
	r1, r2 := types.ID(prefix+"r1"), types.ID(prefix+"r2")

	first, err := l.MarkDispatched(ctx, r1, []types.ID{"h2", "h1"})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	again, err := l.MarkDispatched(ctx, r1, []types.ID{"h3"})
	if err != nil {
		t.Fatalf("mark again: %v", err)
	}
	if !first || again {
		t.Fatalf("first=%v again=%v", first, again)
	}

	got, err := l.Notified(ctx, r1)
	if err != nil {
		t.Fatalf("notified: %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []types.ID{"h1", "h2"}) {
		t.Fatalf("notified = %v, want [h1 h2]", got)
	}

	if got, err := l.Notified(ctx, r2); err != nil || len(got) != 0 {
		t.Fatalf("unclaimed request: %v, %v", got, err)
	}
}

func TestOfferLatestKeepsNewest(t *testing.T) {
	ch := make(chan int, 1)
	offerLatest(ch, 1)
	offerLatest(ch, 2)
	if v := <-ch; v != 2 {
		t.Fatalf("got %d, want 2", v)
	}
}

func TestBuildMessage(t *testing.T) {
	if buildMessage("", Notice{}) != nil {
		t.Fatalf("empty token must not build a message")
	}
	msg := buildMessage("tok", Notice{
		RequestID:   "r1",
		ServiceType: "tow",
		Location:    types.Location{Lat: 24.8607, Lng: 67.0011, Address: "Saddar"},
		DistanceKm:  1.234,
	})
	if msg.Token != "tok" || msg.Data["request_id"] != "r1" || msg.Data["distance_km"] != "1.23" {
		t.Fatalf("unexpected message data: %+v", msg.Data)
	}
	if msg.Notification.Body != "tow needed near Saddar" {
		t.Fatalf("body = %q", msg.Notification.Body)
	}
}

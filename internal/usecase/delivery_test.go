package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
)

type mockSubRepo struct {
	mu sync.Mutex

	subs     []domain.Subscriber
	reqFreqs []domain.Frequency
	advanced map[int64]int64
}

func (m *mockSubRepo) CandidatesByFrequency(ctx context.Context, freqs []domain.Frequency) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqFreqs = freqs
	return m.subs, nil
}

func (m *mockSubRepo) GetSubscriber(ctx context.Context, subscriberID string) (domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.ID == subscriberID {
			return sub, nil
		}
	}
	return domain.Subscriber{}, domain.NotFoundError{Resource: "subscriber"}
}

func (m *mockSubRepo) AdvanceCursor(ctx context.Context, listID int64, cursor int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advanced == nil {
		m.advanced = make(map[int64]int64)
	}
	m.advanced[listID] = cursor
	return nil
}

type mockBounceRepo struct {
	mu sync.Mutex

	bounced  map[string]bool
	recorded []string
}

func (m *mockBounceRepo) IsBounced(ctx context.Context, subscriberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bounced[subscriberID], nil
}

func (m *mockBounceRepo) RecordBounce(ctx context.Context, subscriberID, address, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, subscriberID)
	return nil
}

func (m *mockBounceRepo) GetBounce(ctx context.Context, subscriberID string) (*domain.Bounce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bounced[subscriberID] {
		return &domain.Bounce{SubscriberID: subscriberID, Count: 1}, nil
	}
	return nil, domain.NotFoundError{Resource: "bounce"}
}

type mockEngagement struct {
	inactive map[string]bool
}

func (m *mockEngagement) IsActive(ctx context.Context, subscriberID string) (bool, error) {
	return !m.inactive[subscriberID], nil
}

type mockMailer struct {
	mu sync.Mutex

	failWith map[string]error
	sent     []string
	connects int
}

func (m *mockMailer) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return nil
}

func (m *mockMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWith[to]; err != nil {
		return err
	}
	m.sent = append(m.sent, to)
	return nil
}

func (m *mockMailer) Close() error { return nil }

type stubSourceRenderer struct{}

func (stubSourceRenderer) Render(ctx context.Context, ref dispatch.SourceRef, eventID string, feedNames []string) (dispatch.EventView, error) {
	return dispatch.EventView{Kind: ref.Kind, Title: eventID}, nil
}

type stubDigestRenderer struct{}

func (stubDigestRenderer) RenderDigest(d Digest) (string, string, error) {
	return "text", "html", nil
}

func subscriberFixtures(n int) []domain.Subscriber {
	subs := make([]domain.Subscriber, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("sub-%d", i)
		subs = append(subs, domain.Subscriber{
			ID:      id,
			Address: id + "@example.com",
			Lists: []domain.SubscriptionList{{
				ID:           int64(i + 1),
				SubscriberID: id,
				Name:         "Email Updates",
				Frequency:    domain.FreqDaily,
				Trackers:     []string{"misc:allvotes"},
			}},
		})
	}
	return subs
}

func newTestDelivery(events *mockEventRepo, subs *mockSubRepo, bounces *mockBounceRepo, engagement *mockEngagement, mailer *mockMailer, cfg DeliveryConfig) *DeliveryUsecase {
	digest := NewDigestUsecase(testRegistry(), events)
	return NewDeliveryUsecase(
		digest,
		subs,
		bounces,
		engagement,
		func() Mailer { return mailer },
		func() SourceRenderer { return stubSourceRenderer{} },
		stubDigestRenderer{},
		cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestRunDeliversAndIsolatesFailures(t *testing.T) {
	events := &mockEventRepo{
		sinceRows: []domain.EventRow{
			{ID: 7, Feed: "misc:allvotes", Source: src("vote", "v1"), EventID: "e1", When: time.Now().Add(-time.Hour)},
		},
	}
	subs := &mockSubRepo{subs: subscriberFixtures(100)}
	mailer := &mockMailer{
		failWith: map[string]error{
			"sub-42@example.com": domain.TransientSendError{Err: fmt.Errorf("connection reset")},
		},
	}
	uc := newTestDelivery(events, subs, &mockBounceRepo{}, &mockEngagement{}, mailer, DeliveryConfig{Workers: 5, QueueDepth: 2})

	report, err := uc.Run(context.Background(), ModeDaily)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Candidates != 100 {
		t.Fatalf("candidates %d", report.Candidates)
	}
	if report.Sent != 99 {
		t.Fatalf("sent %d, want 99", report.Sent)
	}
	if report.Events != 99 {
		t.Fatalf("events %d, want 99", report.Events)
	}
	if report.TransientFailures != 1 {
		t.Fatalf("transient failures %d, want 1", report.TransientFailures)
	}
	if len(subs.advanced) != 99 {
		t.Fatalf("advanced %d cursors, want 99", len(subs.advanced))
	}
	// The failed subscriber's cursor is untouched so the next run retries.
	if _, ok := subs.advanced[43]; ok {
		t.Fatalf("cursor advanced for failed subscriber")
	}
	for listID, cursor := range subs.advanced {
		if cursor != 7 {
			t.Fatalf("list %d advanced to %d, want 7", listID, cursor)
		}
	}
}

func TestRunDryRunSuppressesSendsAndCursors(t *testing.T) {
	events := &mockEventRepo{
		sinceRows: []domain.EventRow{
			{ID: 7, Feed: "misc:allvotes", Source: src("vote", "v1"), EventID: "e1", When: time.Now().Add(-time.Hour)},
		},
	}
	subs := &mockSubRepo{subs: subscriberFixtures(10)}
	mailer := &mockMailer{}
	uc := newTestDelivery(events, subs, &mockBounceRepo{}, &mockEngagement{}, mailer, DeliveryConfig{})

	report, err := uc.Run(context.Background(), ModeDryRun)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Sent != 10 {
		t.Fatalf("sent %d, want 10 counted", report.Sent)
	}
	if len(mailer.sent) != 0 || mailer.connects != 0 {
		t.Fatalf("dry run touched the transport: sent=%d connects=%d", len(mailer.sent), mailer.connects)
	}
	if len(subs.advanced) != 0 {
		t.Fatalf("dry run advanced cursors")
	}
}

func TestRunSkipsBouncedAndInactive(t *testing.T) {
	events := &mockEventRepo{
		sinceRows: []domain.EventRow{
			{ID: 7, Feed: "misc:allvotes", Source: src("vote", "v1"), EventID: "e1", When: time.Now().Add(-time.Hour)},
		},
	}
	subs := &mockSubRepo{subs: subscriberFixtures(5)}
	bounces := &mockBounceRepo{bounced: map[string]bool{"sub-0": true}}
	engagement := &mockEngagement{inactive: map[string]bool{"sub-1": true}}
	mailer := &mockMailer{}
	uc := newTestDelivery(events, subs, bounces, engagement, mailer, DeliveryConfig{})

	report, err := uc.Run(context.Background(), ModeDaily)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.SkippedBounced != 1 || report.SkippedInactive != 1 {
		t.Fatalf("skips %+v", report)
	}
	if report.Sent != 3 {
		t.Fatalf("sent %d, want 3", report.Sent)
	}
}

func TestRunRecordsPermanentBounce(t *testing.T) {
	events := &mockEventRepo{
		sinceRows: []domain.EventRow{
			{ID: 7, Feed: "misc:allvotes", Source: src("vote", "v1"), EventID: "e1", When: time.Now().Add(-time.Hour)},
		},
	}
	subs := &mockSubRepo{subs: subscriberFixtures(2)}
	bounces := &mockBounceRepo{}
	mailer := &mockMailer{
		failWith: map[string]error{
			"sub-0@example.com": domain.PermanentBounceError{Address: "sub-0@example.com", Err: fmt.Errorf("550 no such user")},
		},
	}
	uc := newTestDelivery(events, subs, bounces, &mockEngagement{}, mailer, DeliveryConfig{})

	report, err := uc.Run(context.Background(), ModeDaily)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.PermanentBounces != 1 {
		t.Fatalf("permanent bounces %d", report.PermanentBounces)
	}
	if len(bounces.recorded) != 1 || bounces.recorded[0] != "sub-0" {
		t.Fatalf("recorded bounces %v", bounces.recorded)
	}
	if _, ok := subs.advanced[1]; ok {
		t.Fatalf("cursor advanced for bounced subscriber")
	}
}

func TestRunSkipsEmptyDigests(t *testing.T) {
	subs := &mockSubRepo{subs: subscriberFixtures(3)}
	mailer := &mockMailer{}
	uc := newTestDelivery(&mockEventRepo{}, subs, &mockBounceRepo{}, &mockEngagement{}, mailer, DeliveryConfig{})

	report, err := uc.Run(context.Background(), ModeDaily)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.SkippedEmpty != 3 {
		t.Fatalf("skipped empty %d, want 3", report.SkippedEmpty)
	}
	if mailer.connects != 0 {
		t.Fatalf("transport opened with nothing to send")
	}
}

func TestRunAnnouncementForcesSend(t *testing.T) {
	subs := &mockSubRepo{subs: subscriberFixtures(3)}
	mailer := &mockMailer{}
	uc := newTestDelivery(&mockEventRepo{}, subs, &mockBounceRepo{}, &mockEngagement{}, mailer,
		DeliveryConfig{Announcement: "Scheduled maintenance this weekend."})

	report, err := uc.Run(context.Background(), ModeDaily)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Sent != 3 {
		t.Fatalf("sent %d, want 3", report.Sent)
	}
	if report.Events != 0 {
		t.Fatalf("events %d, want 0", report.Events)
	}
	if len(subs.advanced) != 0 {
		t.Fatalf("announcement-only send advanced cursors")
	}
}

func TestWeeklyRunCoversDailyLists(t *testing.T) {
	subs := &mockSubRepo{subs: subscriberFixtures(1)}
	uc := newTestDelivery(&mockEventRepo{}, subs, &mockBounceRepo{}, &mockEngagement{}, &mockMailer{}, DeliveryConfig{})

	if _, err := uc.Run(context.Background(), ModeWeekly); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(subs.reqFreqs) != 2 {
		t.Fatalf("requested frequencies %v, want daily and weekly", subs.reqFreqs)
	}
}

func TestParseDeliveryMode(t *testing.T) {
	for _, valid := range []string{"daily", "weekly", "dry-run"} {
		if _, err := ParseDeliveryMode(valid); err != nil {
			t.Fatalf("%q rejected: %v", valid, err)
		}
	}
	if _, err := ParseDeliveryMode("hourly"); err == nil {
		t.Fatalf("expected error for invalid mode")
	}
}

func TestStatusReportsPendingEvents(t *testing.T) {
	events := &mockEventRepo{
		sinceRows: []domain.EventRow{
			{ID: 7, Feed: "misc:allvotes", Source: src("vote", "v1"), EventID: "e1", When: time.Now().Add(-time.Hour)},
			{ID: 8, Feed: "misc:allvotes", Source: src("vote", "v2"), EventID: "e1", When: time.Now().Add(-time.Minute)},
		},
	}
	subs := &mockSubRepo{subs: subscriberFixtures(1)}
	uc := newTestDelivery(events, subs, &mockBounceRepo{}, &mockEngagement{}, &mockMailer{}, DeliveryConfig{})

	status, err := uc.Status(context.Background(), "sub-0")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Active {
		t.Fatalf("expected active subscriber")
	}
	if status.Bounce != nil {
		t.Fatalf("unexpected bounce %+v", status.Bounce)
	}
	if len(status.Lists) != 1 || status.Lists[0].Pending != 2 {
		t.Fatalf("list status %+v", status.Lists)
	}
}

func TestStatusUnknownSubscriber(t *testing.T) {
	uc := newTestDelivery(&mockEventRepo{}, &mockSubRepo{}, &mockBounceRepo{}, &mockEngagement{}, &mockMailer{}, DeliveryConfig{})
	if _, err := uc.Status(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error")
	}
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/utils"
)

var deliveryTracer = otel.Tracer("delivery")

// DeliveryMode selects which subscription lists a run covers. The weekly
// run also sweeps daily lists, matching the scheduling convention the feeds
// were designed around. Dry-run covers the daily set but suppresses sends
// and cursor advancement.
type DeliveryMode string

const (
	ModeDaily  DeliveryMode = "daily"
	ModeWeekly DeliveryMode = "weekly"
	ModeDryRun DeliveryMode = "dry-run"
)

func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case ModeDaily, ModeWeekly, ModeDryRun:
		return DeliveryMode(s), nil
	}
	return "", fmt.Errorf("invalid delivery mode %q", s)
}

func (m DeliveryMode) frequencies() []domain.Frequency {
	if m == ModeWeekly {
		return []domain.Frequency{domain.FreqDaily, domain.FreqWeekly}
	}
	return []domain.Frequency{domain.FreqDaily}
}

// Digest is one subscriber's rendered-ready update, grouped by list.
type Digest struct {
	Subscriber   domain.Subscriber
	Date         time.Time
	Announcement string
	Sections     []DigestSection
}

type DigestSection struct {
	List  domain.SubscriptionList
	Items []DigestItem
}

type DigestItem struct {
	Item domain.Item
	View dispatch.EventView
}

// DeliveryConfig tunes the worker pool.
type DeliveryConfig struct {
	// Workers is the fixed pool size.
	Workers int
	// QueueDepth caps pending requests per worker; total in-flight work is
	// bounded by Workers*QueueDepth.
	QueueDepth int
	// Announcement, when set, is included in every digest and forces a send
	// even to subscribers with no new events.
	Announcement string
}

// Report summarizes one delivery run.
type Report struct {
	RunID             string
	Mode              DeliveryMode
	Candidates        int
	Sent              int
	Events            int
	SkippedEmpty      int
	SkippedInactive   int
	SkippedBounced    int
	TransientFailures int
	PermanentBounces  int
}

// DeliveryUsecase runs the digest pipeline: a fixed pool of workers, each
// owning one mail connection and one run-scoped source cache, fed
// round-robin by an orchestrator that advances cursors only on confirmed
// sends.
type DeliveryUsecase struct {
	digest      *DigestUsecase
	subs        SubscriptionRepository
	bounces     BounceRepository
	engagement  EngagementPolicy
	newMailer   MailerFactory
	newRenderer SourceRendererFactory
	renderer    DigestRenderer
	cfg         DeliveryConfig
	log         *slog.Logger

	now func() time.Time
}

func NewDeliveryUsecase(
	digest *DigestUsecase,
	subs SubscriptionRepository,
	bounces BounceRepository,
	engagement EngagementPolicy,
	newMailer MailerFactory,
	newRenderer SourceRendererFactory,
	renderer DigestRenderer,
	cfg DeliveryConfig,
	log *slog.Logger,
) *DeliveryUsecase {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 2
	}
	return &DeliveryUsecase{
		digest:      digest,
		subs:        subs,
		bounces:     bounces,
		engagement:  engagement,
		newMailer:   newMailer,
		newRenderer: newRenderer,
		renderer:    renderer,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

type deliveryRequest struct {
	sub    domain.Subscriber
	freqs  []domain.Frequency
	dryRun bool
}

type resultStatus int

const (
	statusSent resultStatus = iota + 1
	statusSkippedEmpty
	statusTransient
	statusPermanent
)

type deliveryResult struct {
	sub     domain.Subscriber
	status  resultStatus
	dryRun  bool
	events  int
	cursors map[int64]int64
	err     error
}

// Run executes one delivery pass. Per-subscriber failures are isolated:
// they are counted in the report, never aborting the batch.
func (uc *DeliveryUsecase) Run(ctx context.Context, mode DeliveryMode) (Report, error) {
	ctx, span := deliveryTracer.Start(ctx, "Delivery.Usecase.Run")
	defer span.End()

	report := Report{
		RunID: uuid.NewString(),
		Mode:  mode,
	}
	dryRun := mode == ModeDryRun
	freqs := mode.frequencies()

	candidates, err := uc.subs.CandidatesByFrequency(ctx, freqs)
	if err != nil {
		span.RecordError(err)
		return report, errors.Wrap(err, "DeliveryUsecase.Run: loading candidates failed")
	}
	report.Candidates = len(candidates)

	uc.log.Info("delivery run starting",
		slog.String("run_id", report.RunID),
		slog.String("mode", string(mode)),
		slog.Int("candidates", len(candidates)),
		slog.String("module", "delivery"),
	)

	requests := make([]chan deliveryRequest, uc.cfg.Workers)
	results := make(chan deliveryResult, uc.cfg.Workers*uc.cfg.QueueDepth)
	var wg sync.WaitGroup
	for i := 0; i < uc.cfg.Workers; i++ {
		requests[i] = make(chan deliveryRequest, uc.cfg.QueueDepth)
		wg.Add(1)
		go func(id int, reqs <-chan deliveryRequest) {
			defer wg.Done()
			uc.worker(ctx, id, reqs, results)
		}(i, requests[i])
	}

	drain := utils.NewDrain(results)
	handle := func(r deliveryResult) {
		uc.settle(ctx, r, &report)
	}

	next := 0
	for _, sub := range candidates {
		if ctx.Err() != nil {
			break
		}

		bounced, err := uc.bounces.IsBounced(ctx, sub.ID)
		if err != nil {
			uc.log.Error("bounce lookup failed",
				slog.String("subscriber", sub.ID),
				slog.String("error", err.Error()),
				slog.String("module", "delivery"),
			)
			report.TransientFailures++
			continue
		}
		if bounced {
			report.SkippedBounced++
			continue
		}

		active, err := uc.engagement.IsActive(ctx, sub.ID)
		if err != nil {
			// Engagement state is a heuristic; treat lookup failures as
			// active rather than silently dropping the subscriber.
			uc.log.Warn("engagement lookup failed",
				slog.String("subscriber", sub.ID),
				slog.String("error", err.Error()),
				slog.String("module", "delivery"),
			)
			active = true
		}
		if !active {
			report.SkippedInactive++
			continue
		}

		requests[next] <- deliveryRequest{sub: sub, freqs: freqs, dryRun: dryRun}
		next = (next + 1) % uc.cfg.Workers
		drain.Launched()
		drain.DrainTo(uc.cfg.Workers*uc.cfg.QueueDepth, handle)
	}

	// Sentinel: closing the request channels tells workers to stop
	// accepting work; in-flight deliveries still complete.
	for _, ch := range requests {
		close(ch)
	}
	drain.DrainTo(0, handle)
	wg.Wait()

	uc.log.Info("delivery run finished",
		slog.String("run_id", report.RunID),
		slog.Int("sent", report.Sent),
		slog.Int("events", report.Events),
		slog.Int("transient_failures", report.TransientFailures),
		slog.Int("permanent_bounces", report.PermanentBounces),
		slog.String("module", "delivery"),
	)
	return report, nil
}

// settle applies one worker result: cursors advance only on confirmed sends,
// bounces are recorded, everything else leaves subscription state untouched
// so the next scheduled run retries naturally.
func (uc *DeliveryUsecase) settle(ctx context.Context, r deliveryResult, report *Report) {
	switch r.status {
	case statusSent:
		report.Sent++
		report.Events += r.events
		if r.dryRun {
			return
		}
		at := uc.now()
		for listID, cursor := range r.cursors {
			if err := uc.subs.AdvanceCursor(ctx, listID, cursor, at); err != nil {
				uc.log.Error("cursor advancement failed",
					slog.String("subscriber", r.sub.ID),
					slog.Int64("list", listID),
					slog.String("error", err.Error()),
					slog.String("module", "delivery"),
				)
			}
		}
	case statusSkippedEmpty:
		report.SkippedEmpty++
	case statusPermanent:
		report.PermanentBounces++
		reason := "unknown"
		if r.err != nil {
			reason = r.err.Error()
		}
		if err := uc.bounces.RecordBounce(ctx, r.sub.ID, r.sub.Address, reason); err != nil {
			uc.log.Error("bounce recording failed",
				slog.String("subscriber", r.sub.ID),
				slog.String("error", err.Error()),
				slog.String("module", "delivery"),
			)
		}
	default:
		report.TransientFailures++
		if r.err != nil {
			uc.log.Warn("delivery failed, will retry next run",
				slog.String("subscriber", r.sub.ID),
				slog.String("error", r.err.Error()),
				slog.String("module", "delivery"),
			)
		}
	}
}

// worker owns one mail connection and one run-scoped source renderer for
// its lifetime. The connection opens lazily on the first real send.
func (uc *DeliveryUsecase) worker(ctx context.Context, id int, reqs <-chan deliveryRequest, results chan<- deliveryResult) {
	mailer := uc.newMailer()
	renderer := uc.newRenderer()
	connected := false
	defer func() {
		if connected {
			if err := mailer.Close(); err != nil {
				uc.log.Debug("mailer close failed",
					slog.Int("worker", id),
					slog.String("error", err.Error()),
					slog.String("module", "delivery"),
				)
			}
		}
	}()

	for req := range reqs {
		results <- uc.process(ctx, req, mailer, &connected, renderer)
	}
}

func (uc *DeliveryUsecase) process(ctx context.Context, req deliveryRequest, mailer Mailer, connected *bool, renderer SourceRenderer) (res deliveryResult) {
	res = deliveryResult{sub: req.sub, dryRun: req.dryRun}
	defer func() {
		if p := recover(); p != nil {
			res.status = statusTransient
			res.err = fmt.Errorf("panic during delivery: %v", p)
		}
	}()

	now := uc.now()
	digest := Digest{
		Subscriber:   req.sub,
		Date:         now,
		Announcement: uc.cfg.Announcement,
	}
	cursors := make(map[int64]int64)
	events := 0

	for _, list := range req.sub.Lists {
		if !frequencyIn(list.Frequency, req.freqs) {
			continue
		}
		cursor, items, err := uc.digest.NewEvents(ctx, list, now)
		if err != nil {
			res.status = statusTransient
			res.err = errors.Wrapf(err, "digest for list %d", list.ID)
			return res
		}
		if len(items) == 0 {
			continue
		}

		section := DigestSection{List: list, Items: make([]DigestItem, 0, len(items))}
		for _, item := range items {
			view, err := renderer.Render(ctx, item.Source, item.EventID, item.Feeds)
			if err != nil {
				res.status = statusTransient
				res.err = errors.Wrapf(err, "rendering %s/%s", item.Source, item.EventID)
				return res
			}
			section.Items = append(section.Items, DigestItem{Item: item, View: view})
		}
		digest.Sections = append(digest.Sections, section)
		cursors[list.ID] = cursor
		events += len(items)
	}

	if events == 0 && digest.Announcement == "" {
		res.status = statusSkippedEmpty
		return res
	}

	textBody, htmlBody, err := uc.renderer.RenderDigest(digest)
	if err != nil {
		res.status = statusTransient
		res.err = errors.Wrap(err, "digest rendering failed")
		return res
	}

	res.events = events
	res.cursors = cursors

	if req.dryRun {
		res.status = statusSent
		return res
	}

	if !*connected {
		if err := mailer.Connect(ctx); err != nil {
			res.status = statusTransient
			res.err = errors.Wrap(err, "mail transport connect failed")
			return res
		}
		*connected = true
	}

	subject := fmt.Sprintf("Tracked events update for %s", now.Format("Jan 2, 2006"))
	if err := mailer.Send(ctx, req.sub.Address, subject, textBody, htmlBody); err != nil {
		var bounce domain.PermanentBounceError
		if errors.As(err, &bounce) {
			res.status = statusPermanent
		} else {
			res.status = statusTransient
		}
		res.err = err
		return res
	}

	res.status = statusSent
	return res
}

func frequencyIn(f domain.Frequency, set []domain.Frequency) bool {
	for _, s := range set {
		if s == f {
			return true
		}
	}
	return false
}

// ListStatus pairs a subscription list with its pending event count.
type ListStatus struct {
	List    domain.SubscriptionList
	Pending int
}

// SubscriberStatus is the inspection view used when a subscriber reports
// not receiving updates.
type SubscriberStatus struct {
	Subscriber domain.Subscriber
	Active     bool
	Bounce     *domain.Bounce
	Lists      []ListStatus
}

// Status reports a subscriber's delivery health without sending anything.
func (uc *DeliveryUsecase) Status(ctx context.Context, subscriberID string) (SubscriberStatus, error) {
	sub, err := uc.subs.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return SubscriberStatus{}, err
	}

	status := SubscriberStatus{Subscriber: sub}
	status.Active, err = uc.engagement.IsActive(ctx, subscriberID)
	if err != nil {
		status.Active = true
	}
	status.Bounce, err = uc.bounces.GetBounce(ctx, subscriberID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return SubscriberStatus{}, err
	}

	now := uc.now()
	for _, list := range sub.Lists {
		_, items, err := uc.digest.NewEvents(ctx, list, now)
		if err != nil {
			return SubscriberStatus{}, err
		}
		status.Lists = append(status.Lists, ListStatus{List: list, Pending: len(items)})
	}
	return status, nil
}

package notification

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/auditdesk/portal/pkg/broadcast"
	"github.com/auditdesk/portal/pkg/logger"
	"github.com/auditdesk/portal/pkg/metrics"
	"github.com/auditdesk/portal/svc/directory"
)

// Service is the notification policy engine.
type Service struct {
	store     Store
	dir       directory.Directory
	cfg       Config
	templates *TemplateService
	publisher Publisher
	deliverer Deliverer
	counts    CountCache
	metrics   metrics.Sink
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m metrics.Sink) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPublisher sets where read-status events go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDeliverer sets the channel(s) new notifications are pushed through.
func WithDeliverer(d Deliverer) Option {
	return func(s *Service) { s.deliverer = d }
}

// WithCountCache puts a cache in front of unread counts.
func WithCountCache(c CountCache) Option {
	return func(s *Service) { s.counts = c }
}

func WithTemplates(t *TemplateService) Option {
	return func(s *Service) {
		if t != nil {
			s.templates = t
		}
	}
}

// WithClock overrides the time source used for windows and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides notification id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService creates the engine. Store and directory are required.
func NewService(store Store, dir directory.Directory, opts ...Option) *Service {
	s := &Service{
		store:   store,
		dir:     dir,
		cfg:     DefaultConfig(),
		metrics: metrics.Noop{},
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.templates == nil {
		s.templates = NewTemplateService(s.cfg.BaseURL)
	}
	s.logger = s.logger.With(logger.Component("notification"))
	return s
}

// request carries one recipient's evaluation through the pipeline.
type request struct {
	typ         Type
	entityID    string
	recipientID string
	senderID    string
	priority    Priority
	client      *directory.Client
	audit       *directory.Audit
	prev, next  string
}

// CreateClientAssignment notifies recipientUserID that they now own clientID.
func (s *Service) CreateClientAssignment(ctx context.Context, clientID, recipientUserID, senderUserID string, priority Priority) Result {
	req := request{
		typ:         TypeClientAssignment,
		entityID:    clientID,
		recipientID: recipientUserID,
		senderID:    senderUserID,
		priority:    priority,
	}
	if r := checkSelfNotification(s.cfg.PreventSelfNotification, recipientUserID, senderUserID); r != nil {
		return s.rejected(ctx, req, r)
	}

	client, err := s.dir.GetClient(ctx, clientID)
	if err != nil {
		return s.systemError(ctx, req, "client lookup", err)
	}
	if r := checkEntity("client", clientID, client); r != nil {
		return s.rejected(ctx, req, r)
	}
	req.client = client
	return s.evaluate(ctx, req)
}

// CreateAuditAssignment notifies recipientUserID that they joined auditID.
func (s *Service) CreateAuditAssignment(ctx context.Context, auditID, recipientUserID, senderUserID string, priority Priority) Result {
	req := request{
		typ:         TypeAuditAssignment,
		entityID:    auditID,
		recipientID: recipientUserID,
		senderID:    senderUserID,
		priority:    priority,
	}
	if r := checkSelfNotification(s.cfg.PreventSelfNotification, recipientUserID, senderUserID); r != nil {
		return s.rejected(ctx, req, r)
	}

	audit, err := s.dir.GetAudit(ctx, auditID)
	if err != nil {
		return s.systemError(ctx, req, "audit lookup", err)
	}
	if r := checkEntity("audit", auditID, audit); r != nil {
		return s.rejected(ctx, req, r)
	}
	req.audit = audit
	return s.evaluate(ctx, req)
}

// AuditUpdate describes a stage or status change on an audit.
type AuditUpdate struct {
	AuditID       string
	ChangeType    ChangeType
	PreviousValue string
	NewValue      string
	SenderUserID  string
	// RecipientUserIDs defaults to the audit's assignees when nil.
	RecipientUserIDs []string
	Priority         Priority
}

// CreateAuditUpdate notifies every recipient of an audit change. Each
// recipient is evaluated on its own and gets its own Result. The sender is
// dropped from the recipients rather than rejected.
func (s *Service) CreateAuditUpdate(ctx context.Context, u AuditUpdate) []Result {
	typ, ok := u.ChangeType.notificationType()
	if !ok {
		return s.fanOutFailure(u.RecipientUserIDs, s.rejected(ctx, request{
			entityID: u.AuditID,
			senderID: u.SenderUserID,
			priority: u.Priority,
		}, reject(ReasonInvalidEntity, "unknown change type "+string(u.ChangeType))))
	}

	base := request{
		typ:      typ,
		entityID: u.AuditID,
		senderID: u.SenderUserID,
		priority: u.Priority,
		prev:     u.PreviousValue,
		next:     u.NewValue,
	}

	audit, err := s.dir.GetAudit(ctx, u.AuditID)
	if err != nil {
		return s.fanOutFailure(u.RecipientUserIDs, s.systemError(ctx, base, "audit lookup", err))
	}
	if r := checkEntity("audit", u.AuditID, audit); r != nil {
		return s.fanOutFailure(u.RecipientUserIDs, s.rejected(ctx, base, r))
	}
	base.audit = audit

	recipients := fanOutRecipients(u.RecipientUserIDs, audit, u.SenderUserID, s.cfg.PreventSelfNotification)
	results := make([]Result, 0, len(recipients))
	for _, id := range recipients {
		req := base
		req.recipientID = id
		results = append(results, s.evaluate(ctx, req))
	}
	return results
}

// fanOutFailure repeats an audit-level failure for every explicit recipient.
func (s *Service) fanOutFailure(explicit []string, r Result) []Result {
	if len(explicit) == 0 {
		return []Result{r}
	}
	out := make([]Result, len(explicit))
	for i, id := range explicit {
		out[i] = r
		out[i].RecipientUserID = id
	}
	return out
}

// evaluate runs identity, dedup, rate limit, template and persist for a
// request whose entity has been validated.
func (s *Service) evaluate(ctx context.Context, req request) Result {
	stop := s.metrics.StartTimer(metrics.NotificationCreateDur, metrics.Tags{"type": string(req.typ)})
	defer stop()

	recipient, err := s.dir.GetUser(ctx, req.recipientID)
	if err != nil {
		return s.systemError(ctx, req, "recipient lookup", err)
	}
	sender, err := s.dir.GetUser(ctx, req.senderID)
	if err != nil {
		return s.systemError(ctx, req, "sender lookup", err)
	}
	if r := checkUsers(req.recipientID, recipient, req.senderID, sender); r != nil {
		return s.rejected(ctx, req, r)
	}

	now := s.now()

	if s.cfg.DedupEnabled && s.cfg.DedupWindowMinutes > 0 {
		window := s.cfg.DedupWindow()
		dup, err := s.store.FindDuplicate(ctx, req.recipientID, req.typ, req.entityID, now.Add(-window))
		if err != nil {
			return s.systemError(ctx, req, "duplicate lookup", err)
		}
		if r := checkDuplicate(dup, window); r != nil {
			return s.rejected(ctx, req, r)
		}
	}

	limit := s.cfg.Limit(req.typ)
	if !limit.Exempt(req.priority) {
		if r, err := s.rateLimit(ctx, req, limit, now); err != nil {
			return s.systemError(ctx, req, "rate limit count", err)
		} else if r != nil {
			return s.rejected(ctx, req, r)
		}
	}

	content, err := s.templates.Render(TemplateData{
		Type:          req.typ,
		Sender:        sender,
		Recipient:     recipient,
		Client:        req.client,
		Audit:         req.audit,
		PreviousValue: req.prev,
		NewValue:      req.next,
	})
	if err != nil {
		return s.systemError(ctx, req, "render template", err)
	}

	n, err := s.store.CreateNotification(ctx, Notification{
		ID:              s.newID(),
		Type:            req.typ,
		RecipientUserID: req.recipientID,
		SenderUserID:    req.senderID,
		EntityID:        req.entityID,
		Message:         content.Text,
		LinkURL:         content.ActionURL,
		CreatedAt:       now,
	})
	if err != nil {
		return s.systemError(ctx, req, "create notification", err)
	}

	s.metrics.Increment(metrics.NotificationsCreated, metrics.Tags{"type": string(req.typ)})
	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification created",
		logger.NotificationID(n.ID),
		logger.NotificationType(string(n.Type)),
		logger.UserID(n.RecipientUserID),
		logger.SenderID(n.SenderUserID),
		logger.EntityID(n.EntityID),
	)

	s.deliver(ctx, n, content, recipient)
	return success(req.recipientID, n.ID)
}

func (s *Service) rateLimit(ctx context.Context, req request, limit TypeLimit, now time.Time) (*Result, error) {
	base := CountFilter{SenderUserID: req.senderID, Type: req.typ}

	hf := base
	hf.CreatedAfter = now.Add(-time.Hour)
	hourly, err := s.store.CountNotifications(ctx, hf)
	if err != nil {
		return nil, err
	}
	if r := checkRateLimit(req.typ, limit, hourly, 0, now); r != nil {
		return r, nil
	}

	df := base
	df.CreatedAfter = now.Add(-24 * time.Hour)
	daily, err := s.store.CountNotifications(ctx, df)
	if err != nil {
		return nil, err
	}
	return checkRateLimit(req.typ, limit, hourly, daily, now), nil
}

// deliver refreshes the recipient's unread count and hands the notification
// to the configured channels.
func (s *Service) deliver(ctx context.Context, n Notification, content Content, recipient *directory.User) {
	if s.counts != nil {
		s.counts.Invalidate(ctx, n.RecipientUserID)
	}
	if s.deliverer == nil {
		return
	}

	unread, err := s.UnreadCount(ctx, n.RecipientUserID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "unread count for delivery failed",
			logger.NotificationID(n.ID), logger.UserID(n.RecipientUserID), logger.Error(err))
	}

	if err := s.deliverer.Deliver(ctx, Delivery{
		Notification: n,
		Content:      content,
		Recipient:    recipient,
		UnreadCount:  unread,
	}); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "notification stored but delivery failed",
			logger.NotificationID(n.ID), logger.UserID(n.RecipientUserID), logger.Error(err))
	}
}

func (s *Service) rejected(ctx context.Context, req request, r *Result) Result {
	r.RecipientUserID = req.recipientID
	s.metrics.Increment(metrics.NotificationsRejected, metrics.Tags{
		"type":   string(req.typ),
		"reason": string(r.Reason),
	})
	s.logger.LogAttrs(ctx, slog.LevelDebug, "notification rejected",
		logger.NotificationType(string(req.typ)),
		logger.Reason(string(r.Reason)),
		logger.UserID(req.recipientID),
		logger.SenderID(req.senderID),
		logger.EntityID(req.entityID),
	)
	return *r
}

func (s *Service) systemError(ctx context.Context, req request, step string, err error) Result {
	s.metrics.Increment(metrics.NotificationsRejected, metrics.Tags{
		"type":   string(req.typ),
		"reason": string(ReasonSystemError),
	})
	s.logger.LogAttrs(ctx, slog.LevelError, "notification request failed",
		slog.String("step", step),
		logger.NotificationType(string(req.typ)),
		logger.UserID(req.recipientID),
		logger.SenderID(req.senderID),
		logger.EntityID(req.entityID),
		logger.Error(err),
	)
	return Result{
		RecipientUserID: req.recipientID,
		Reason:          ReasonSystemError,
		Message:         "notification could not be created, try again later",
	}
}

// UnreadCount returns the number of unread notifications for userID,
// served from the count cache when possible.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}
	var gen int64
	if s.counts != nil {
		if n, ok := s.counts.Get(ctx, userID); ok {
			s.metrics.Increment(metrics.UnreadCacheHit, nil)
			return n, nil
		}
		s.metrics.Increment(metrics.UnreadCacheMiss, nil)
		// Read before counting so a concurrent Invalidate wins over this Set.
		gen = s.counts.Generation(ctx, userID)
	}

	n, err := s.store.CountNotifications(ctx, CountFilter{UserID: userID, IsRead: Unread()})
	if err != nil {
		return 0, err
	}
	if s.counts != nil {
		s.counts.Set(ctx, userID, n, gen)
	}
	return n, nil
}

// List returns a page of userID's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	return s.store.List(ctx, userID, opts)
}

// MarkRead marks ids read for userID and tells every session of the user.
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (ReadResult, error) {
	if userID == "" {
		return ReadResult{}, ErrEmptyUserID
	}
	ids = compactIDs(ids)
	if len(ids) == 0 {
		unread, err := s.UnreadCount(ctx, userID)
		return ReadResult{AffectedIDs: []string{}, UnreadCount: unread}, err
	}

	res, err := s.store.MarkRead(ctx, userID, ids)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "mark read failed",
			logger.UserID(userID), logger.Count(len(ids)), logger.Error(err))
		return ReadResult{}, err
	}
	return s.afterRead(ctx, userID, res, false)
}

// MarkAllRead marks every unread notification of userID read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (ReadResult, error) {
	if userID == "" {
		return ReadResult{}, ErrEmptyUserID
	}
	res, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "mark all read failed",
			logger.UserID(userID), logger.Error(err))
		return ReadResult{}, err
	}
	return s.afterRead(ctx, userID, res, true)
}

func (s *Service) afterRead(ctx context.Context, userID string, res ReadResult, bulk bool) (ReadResult, error) {
	if s.counts != nil && res.UpdatedCount > 0 {
		s.counts.Invalidate(ctx, userID)
	}
	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return res, err
	}
	res.UnreadCount = unread

	if res.UpdatedCount == 0 {
		return res, nil
	}

	mode := "single"
	if bulk {
		mode = "all"
	}
	s.metrics.Increment(metrics.NotificationsRead, metrics.Tags{"mode": mode})
	s.logger.LogAttrs(ctx, slog.LevelDebug, "notifications marked read",
		logger.UserID(userID),
		logger.Count(res.UpdatedCount),
		slog.Int("unread", unread),
		slog.String("mode", mode),
	)

	if s.publisher == nil {
		return res, nil
	}
	ev := broadcast.ReadStatusEvent{
		UserID:          userID,
		NotificationIDs: res.AffectedIDs,
		IsRead:          true,
		UnreadCount:     unread,
		Timestamp:       s.now(),
	}
	if bulk {
		err = s.publisher.BroadcastBulkReadStatusChange(ctx, ev)
	} else {
		err = s.publisher.BroadcastReadStatusChange(ctx, ev)
	}
	if err != nil {
		// state is already persisted; listeners reconcile on reconnect
		s.logger.LogAttrs(ctx, slog.LevelWarn, "read status broadcast failed",
			logger.UserID(userID), logger.Error(err))
	}
	return res, nil
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/reclamflow/feed/internal/identity"
	"github.com/reclamflow/feed/pkg/clock"
	"github.com/reclamflow/feed/pkg/enums"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/metrics"
)

// Sources label where a notification was observed.
const (
	SourcePoll      = "poll"
	SourceTransport = "transport"
)

const maxConcurrentFetches = 4

// IdentityResolver decodes the bearer token of the session.
type IdentityResolver interface {
	Resolve(token string) (identity.Identity, error)
}

// Options wires a Feed.
type Options struct {
	Store KeyValueStore
	// ScopeStore narrows Store to the resolved user. Nil keeps Store as is.
	ScopeStore func(identity.Identity) KeyValueStore
	Fetcher    Fetcher
	Resolver   IdentityResolver
	Catalogue  *Catalogue
	// Tokens, when set, is consulted again on Retry.
	Tokens  identity.TokenSource
	Logger  *logger.Logger
	Metrics *metrics.FeedMetrics
	Clock   clock.Clock
}

// Status is the presentation-facing state of the feed.
type Status struct {
	Loading        bool       `json:"loading"`
	InitError      string     `json:"initError,omitempty"`
	PollErrors     []string   `json:"pollErrors,omitempty"`
	TransportState string     `json:"transportState"`
	Role           string     `json:"role,omitempty"`
	LastPollAt     *time.Time `json:"lastPollAt,omitempty"`
}

// EndpointError records a failed endpoint fetch.
type EndpointError struct {
	Endpoint string
	Err      error
}

func (e EndpointError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e EndpointError) Unwrap() error { return e.Err }

// PollReport summarises one polling cycle.
type PollReport struct {
	Created []NotificationRecord
	Failed  []EndpointError
	Skipped int
}

// Err combines the endpoint failures, or returns nil when every endpoint answered.
func (r PollReport) Err() error {
	var err error
	for _, failure := range r.Failed {
		err = multierr.Append(err, failure)
	}
	return err
}

// TicketEvent is a reclamation status update pushed by the broker.
type TicketEvent struct {
	ID     string `validate:"required"`
	Status string `validate:"required"`
}

type candidate struct {
	notificationType enums.NotificationType
	entityID         string
	message          string
}

// Feed owns the deduplicated notification list of one session.
type Feed struct {
	baseStore  KeyValueStore
	scopeStore func(identity.Identity) KeyValueStore
	fetcher    Fetcher
	resolver   IdentityResolver
	catalogue  *Catalogue
	tokens     identity.TokenSource
	logg       *logger.Logger
	metrics    *metrics.FeedMetrics
	clock      clock.Clock
	validate   *validator.Validate

	mu        sync.Mutex
	token     string
	identity  *identity.Identity
	endpoints []EndpointSpec
	seen      persistedSet
	read      persistedSet
	seenCache map[string]struct{}
	records   []NotificationRecord
	status    Status
	onNew     []func([]NotificationRecord)
	onRead    []func(uniqueKey string)

	ready     chan struct{}
	readyOnce sync.Once
}

// New validates the wiring and returns an uninitialized feed.
func New(opts Options) (*Feed, error) {
	if opts.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "key value store required")
	}
	if opts.Fetcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fetcher required")
	}
	if opts.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "identity resolver required")
	}
	if opts.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	catalogue := opts.Catalogue
	if catalogue == nil {
		var err error
		if catalogue, err = DefaultCatalogue(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load default catalogue")
		}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Feed{
		baseStore:  opts.Store,
		scopeStore: opts.ScopeStore,
		fetcher:    opts.Fetcher,
		resolver:   opts.Resolver,
		catalogue:  catalogue,
		tokens:     opts.Tokens,
		logg:       opts.Logger,
		metrics:    opts.Metrics,
		clock:      clk,
		validate:   newValidator(),
		seenCache:  make(map[string]struct{}),
		status:     Status{TransportState: "disconnected"},
		ready:      make(chan struct{}),
	}, nil
}

// Initialize resolves the session identity and selects the endpoints of its
// role. A failure is kept in Status until a later call succeeds.
func (f *Feed) Initialize(ctx context.Context, token string) error {
	id, err := f.resolver.Resolve(token)

	f.mu.Lock()
	f.token = token
	if err != nil {
		f.identity = nil
		f.endpoints = nil
		f.status.Loading = false
		f.status.Role = ""
		f.status.InitError = publicMessage(err)
		f.mu.Unlock()
		f.logg.Error(ctx, "failed to resolve session identity", err)
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "resolve identity")
		}
		return err
	}

	if f.identity != nil && f.identity.Key() != id.Key() {
		f.records = nil
		f.seenCache = make(map[string]struct{})
	}
	store := f.baseStore
	if f.scopeStore != nil {
		store = f.scopeStore(id)
	}
	f.seen = persistedSet{store: store, key: KeySeen, logg: f.logg}
	f.read = persistedSet{store: store, key: KeyRead, logg: f.logg}
	f.identity = &id
	f.endpoints = f.catalogue.Endpoints(id.Role)
	f.status.InitError = ""
	f.status.Role = id.Role.String()
	f.status.Loading = true
	endpointCount := len(f.endpoints)
	f.mu.Unlock()
	f.readyOnce.Do(func() { close(f.ready) })

	logCtx := f.logg.WithUserID(ctx, id.Key())
	logCtx = f.logg.WithActorRole(logCtx, id.Role.String())
	logCtx = f.logg.WithField(logCtx, "endpoints", endpointCount)
	f.logg.Info(logCtx, "notification feed initialized")
	return nil
}

// Retry re-runs Initialize with the session token, refreshed from the token
// source when one is configured.
func (f *Feed) Retry(ctx context.Context) error {
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()

	if f.tokens != nil {
		fresh, err := f.tokens.Token(ctx)
		if err != nil {
			f.mu.Lock()
			f.status.InitError = publicMessage(err)
			f.mu.Unlock()
			f.logg.Error(ctx, "failed to read access token", err)
			return err
		}
		token = fresh
	}
	return f.Initialize(ctx, token)
}

// Ready is closed once an identity has been resolved for the first time.
func (f *Feed) Ready() <-chan struct{} {
	return f.ready
}

// Identity returns the resolved identity, if any.
func (f *Feed) Identity() (identity.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity == nil {
		return identity.Identity{}, false
	}
	return *f.identity, true
}

type fetchResult struct {
	endpoint EndpointSpec
	items    []Item
	err      error
}

// Poll fetches every endpoint of the role once and records the unseen items.
// Endpoint failures are reported without stopping the other endpoints.
func (f *Feed) Poll(ctx context.Context) (PollReport, error) {
	f.mu.Lock()
	if f.identity == nil {
		f.mu.Unlock()
		return PollReport{}, pkgerrors.New(pkgerrors.CodeStateConflict, "feed not initialized")
	}
	endpoints := append([]EndpointSpec(nil), f.endpoints...)
	token := f.token
	f.mu.Unlock()

	results := make([]fetchResult, len(endpoints))
	var group errgroup.Group
	group.SetLimit(maxConcurrentFetches)
	for i, endpoint := range endpoints {
		group.Go(func() error {
			items, err := f.fetcher.Fetch(ctx, endpoint, token)
			results[i] = fetchResult{endpoint: endpoint, items: items, err: err}
			return nil
		})
	}
	_ = group.Wait()

	var report PollReport
	var candidates []candidate
	for _, result := range results {
		endpointCtx := f.logg.WithField(ctx, "endpoint", result.endpoint.Path)
		if result.err != nil {
			report.Failed = append(report.Failed, EndpointError{Endpoint: result.endpoint.Path, Err: result.err})
			f.metrics.IncEndpointFailure(result.endpoint.Path)
			f.logg.Error(endpointCtx, "endpoint poll failed", result.err)
			continue
		}
		for _, item := range result.items {
			entityID, ok := item.EntityID(result.endpoint.IDField)
			if !ok {
				report.Skipped++
				f.logg.Warn(f.logg.WithField(endpointCtx, "id_field", result.endpoint.IDField), "skipping item without identifier")
				continue
			}
			candidates = append(candidates, candidate{
				notificationType: result.endpoint.Type,
				entityID:         entityID,
				message:          result.endpoint.Render(entityID),
			})
		}
	}
	f.metrics.AddSkipped(report.Skipped)

	created, ingestErr := f.ingest(ctx, candidates, SourcePoll)
	report.Created = created

	now := f.clock.Now().UTC()
	f.mu.Lock()
	f.status.Loading = false
	f.status.LastPollAt = &now
	f.status.PollErrors = nil
	for _, failure := range report.Failed {
		f.status.PollErrors = append(f.status.PollErrors, failure.Error())
	}
	if ingestErr != nil {
		f.status.PollErrors = append(f.status.PollErrors, ingestErr.Error())
	}
	f.mu.Unlock()

	return report, ingestErr
}

// HandleTransportEvent turns a broker payload into a stuck_reclamation
// notification when its status says the reclamation is in progress.
func (f *Feed) HandleTransportEvent(ctx context.Context, payload []byte) error {
	if !f.initialized() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "feed not initialized")
	}

	var item Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode ticket event")
	}
	event := TicketEvent{Status: item.String("status")}
	if event.Status == "" {
		event.Status = item.String("statut")
	}
	if id, ok := item.EntityID("id"); ok {
		event.ID = id
	} else if id, ok := item.EntityID("reclamationId"); ok {
		event.ID = id
	}
	if err := f.validate.Struct(event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid ticket event").WithDetails(err.Error())
	}

	spec := f.catalogue.TicketEvents()
	if !spec.matches(event.Status) {
		f.logg.Debug(f.logg.WithField(ctx, "status", event.Status), "ignoring ticket event")
		return nil
	}

	_, err := f.ingest(ctx, []candidate{{
		notificationType: enums.NotificationTypeStuckReclamation,
		entityID:         event.ID,
		message:          spec.render(event.ID, event.Status),
	}}, SourceTransport)
	return err
}

// ingest appends the candidates whose unique key was never seen and hands the
// unread ones to the OnNew subscribers. Records stay in the list when the seen
// set cannot be written; the returned error reports the lost persistence.
func (f *Feed) ingest(ctx context.Context, candidates []candidate, source string) ([]NotificationRecord, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	f.mu.Lock()
	seen, err := f.seen.Members(ctx)
	if err != nil {
		f.mu.Unlock()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seen notifications")
	}
	read, err := f.read.Members(ctx)
	if err != nil {
		f.mu.Unlock()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load read notifications")
	}
	for key := range f.seenCache {
		seen[key] = struct{}{}
	}

	timestamp := f.clock.Now().UTC().Format(time.RFC3339)
	var created []NotificationRecord
	var keys []string
	for _, c := range candidates {
		key := UniqueKey(c.notificationType, c.entityID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		f.seenCache[key] = struct{}{}
		_, isRead := read[key]
		record := NotificationRecord{
			ID:        int64(len(f.records)) + 1,
			Message:   c.message,
			Type:      c.notificationType,
			Timestamp: timestamp,
			UniqueKey: key,
			IsRead:    isRead,
		}
		f.records = append(f.records, record)
		created = append(created, record)
		keys = append(keys, key)
	}
	persistErr := f.seen.Add(ctx, keys...)
	subscribers := append([]func([]NotificationRecord){}, f.onNew...)
	f.mu.Unlock()

	var unread []NotificationRecord
	for _, record := range created {
		f.metrics.IncCreated(record.Type.String(), source)
		if !record.IsRead {
			unread = append(unread, record)
		}
	}
	if len(created) > 0 {
		f.logg.Info(f.logg.WithFields(ctx, map[string]any{"source": source, "created": len(created)}), "notifications added")
	}
	if len(unread) > 0 {
		for _, subscriber := range subscribers {
			subscriber(unread)
		}
	}
	if persistErr != nil {
		return created, pkgerrors.Wrap(pkgerrors.CodeDependency, persistErr, "persist seen notifications")
	}
	return created, nil
}

// MarkRead flags one notification as read and remembers it across sessions.
func (f *Feed) MarkRead(ctx context.Context, id int64) (NotificationRecord, error) {
	f.mu.Lock()
	idx := -1
	for i := range f.records {
		if f.records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		f.mu.Unlock()
		return NotificationRecord{}, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	key := f.records[idx].UniqueKey
	if err := f.read.Add(ctx, key); err != nil {
		f.mu.Unlock()
		return NotificationRecord{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist read state")
	}
	f.records[idx].IsRead = true
	record := f.records[idx]
	listeners := append([]func(string){}, f.onRead...)
	f.mu.Unlock()

	for _, listener := range listeners {
		listener(key)
	}
	return record, nil
}

// MarkAllRead flags every unread notification and returns how many changed.
func (f *Feed) MarkAllRead(ctx context.Context) (int, error) {
	f.mu.Lock()
	var keys []string
	var positions []int
	for i := range f.records {
		if !f.records[i].IsRead {
			keys = append(keys, f.records[i].UniqueKey)
			positions = append(positions, i)
		}
	}
	if len(keys) == 0 {
		f.mu.Unlock()
		return 0, nil
	}
	if err := f.read.Add(ctx, keys...); err != nil {
		f.mu.Unlock()
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist read state")
	}
	for _, i := range positions {
		f.records[i].IsRead = true
	}
	listeners := append([]func(string){}, f.onRead...)
	f.mu.Unlock()

	for _, key := range keys {
		for _, listener := range listeners {
			listener(key)
		}
	}
	return len(keys), nil
}

// ClearSeen forgets every seen unique key and drops the listed records, so the
// next poll lists and notifies them again.
func (f *Feed) ClearSeen(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "feed not initialized")
	}
	if err := f.seen.Clear(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear seen notifications")
	}
	f.seenCache = make(map[string]struct{})
	f.records = nil
	return nil
}

// Notifications returns the list in arrival order.
func (f *Feed) Notifications() []NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NotificationRecord, len(f.records))
	copy(out, f.records)
	return out
}

func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.records {
		if !record.IsRead {
			count++
		}
	}
	return count
}

func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	status.PollErrors = append([]string(nil), f.status.PollErrors...)
	if f.status.LastPollAt != nil {
		at := *f.status.LastPollAt
		status.LastPollAt = &at
	}
	return status
}

// SetTransportState records the broker subscription state for Status.
func (f *Feed) SetTransportState(state string) {
	f.mu.Lock()
	f.status.TransportState = state
	f.mu.Unlock()
}

// OnNew registers fn to receive every batch of new unread notifications.
func (f *Feed) OnNew(fn func([]NotificationRecord)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.onNew = append(f.onNew, fn)
	f.mu.Unlock()
}

// OnRead registers fn to be told about every unique key marked read.
func (f *Feed) OnRead(fn func(uniqueKey string)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.onRead = append(f.onRead, fn)
	f.mu.Unlock()
}

func (f *Feed) initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity != nil
}

func publicMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		meta := pkgerrors.MetadataFor(typed.Code())
		if typed.Message() != "" {
			return meta.PublicMessage + ": " + typed.Message()
		}
		return meta.PublicMessage
	}
	return err.Error()
}

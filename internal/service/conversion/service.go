// Package conversion ties uploads, per-kind stores, converters and the
// executor together for the transport layers.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/converter"
	"github.com/aliskhannn/toolbox/internal/executor"
	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/registry"
)

// ErrUnknownKind is returned for kinds without a store or converter.
var ErrUnknownKind = errors.New("unknown tool kind")

// fileStorage persists uploaded sources.
type fileStorage interface {
	Save(filename string, src io.Reader) (string, int64, error)
	Remove(path string) error
}

// publisher sends lifecycle events to a broker (e.g., Kafka).
type publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// auditLog persists lifecycle events (e.g., PostgreSQL).
type auditLog interface {
	SaveEvent(ctx context.Context, ev model.Event) error
}

// recorder collects metrics.
type recorder interface {
	Event(ev model.Event)
	Conversion(kind model.Kind, took time.Duration)
	Pending(kind model.Kind, n int)
}

// Upload is a file received from a client together with its form options.
type Upload struct {
	Filename string
	Body     io.Reader
	Params   model.Params
}

// Service stages uploads and serves their conversions.
type Service struct {
	stores     map[model.Kind]*registry.Store
	converters *converter.Registry
	executor   *executor.Executor
	sweeper    *registry.Sweeper
	storage    fileStorage

	events  publisher
	audit   auditLog
	metrics recorder
	now     func() time.Time
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithEvents publishes lifecycle events through p.
func WithEvents(p publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithAudit stores lifecycle events in a.
func WithAudit(a auditLog) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics records lifecycle metrics in r.
func WithMetrics(r recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// New creates a Service. Each store serves the kind it was created for.
func New(
	stores []*registry.Store,
	converters *converter.Registry,
	exec *executor.Executor,
	sweeper *registry.Sweeper,
	storage fileStorage,
	opts ...Option,
) *Service {
	s := &Service{
		stores:     make(map[model.Kind]*registry.Store, len(stores)),
		converters: converters,
		executor:   exec,
		sweeper:    sweeper,
		storage:    storage,
		now:        time.Now,
	}
	for _, st := range stores {
		s.stores[st.Kind()] = st
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Kinds returns the kinds that can be staged, in canonical order.
func (s *Service) Kinds() []model.Kind {
	var out []model.Kind
	for _, k := range s.converters.Kinds() {
		if _, ok := s.stores[k]; ok {
			out = append(out, k)
		}
	}

	return out
}

func (s *Service) store(kind model.Kind) (*registry.Store, error) {
	st, ok := s.stores[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	return st, nil
}

// Stage saves the upload, validates it and stages a conversion.
// Expired records of the same kind are swept first.
// Validation errors wrap converter.ErrInvalidInput and leave nothing behind.
func (s *Service) Stage(ctx context.Context, kind model.Kind, up Upload) (model.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return model.Record{}, fmt.Errorf("stage: %w", err)
	}
	conv, ok := s.converters.Lookup(kind)
	if !ok {
		return model.Record{}, fmt.Errorf("stage: %w: %s", ErrUnknownKind, kind)
	}

	s.sweep(ctx, st)

	path, size, err := s.storage.Save(up.Filename, up.Body)
	if err != nil {
		return model.Record{}, fmt.Errorf("stage: failed to save upload: %w", err)
	}

	staged, err := conv.Prepare(converter.Input{
		SourcePath: path,
		Filename:   up.Filename,
		Size:       size,
		Params:     up.Params,
	})
	if err != nil {
		if rmErr := s.storage.Remove(path); rmErr != nil {
			zlog.Logger.Warn().Err(rmErr).Str("path", path).Msg("failed to remove rejected upload")
		}
		return model.Record{}, fmt.Errorf("stage %s: %w", kind, err)
	}

	tok := st.Stage(model.Record{
		SourcePath:  path,
		Params:      staged.Params,
		DisplayName: staged.DisplayName,
	})

	rec, err := st.Get(tok)
	if err != nil {
		return model.Record{}, fmt.Errorf("stage: %w", err)
	}

	s.emit(ctx, model.Event{Token: tok, Kind: kind, Type: model.EventStaged, Detail: rec.DisplayName})
	s.pending(st)

	return rec, nil
}

// Retention returns how long a staged conversion stays downloadable.
func (s *Service) Retention() time.Duration {
	return s.sweeper.Retention()
}

// Get returns the record staged under tok.
func (s *Service) Get(kind model.Kind, tok string) (model.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return model.Record{}, err
	}

	return st.Get(tok)
}

// Execute produces the artifact for tok without delivering it.
func (s *Service) Execute(ctx context.Context, kind model.Kind, tok string) (string, error) {
	st, err := s.store(kind)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}

	started := s.now()
	path, err := s.executor.Execute(ctx, st, tok)
	s.converted(ctx, kind, tok, started, err)

	return path, err
}

// Download prepares the artifact of tok for streaming. Closing the delivery
// consumes the token and sweeps the store.
func (s *Service) Download(ctx context.Context, kind model.Kind, tok string) (*executor.Delivery, error) {
	st, err := s.store(kind)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	started := s.now()
	d, err := s.executor.Download(ctx, st, tok)
	s.converted(ctx, kind, tok, started, err)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	d.OnClose(func(rec model.Record) {
		s.emit(bg, model.Event{Token: rec.Token, Kind: rec.Kind, Type: model.EventDelivered, Detail: d.DisplayName})
		s.sweep(bg, st)
	})

	return d, nil
}

// converted reports the outcome of an execution attempt.
// Lookup failures are not conversion attempts and are ignored.
func (s *Service) converted(ctx context.Context, kind model.Kind, tok string, started time.Time, err error) {
	switch {
	case err == nil:
		s.observe(kind, s.now().Sub(started))
		s.emit(ctx, model.Event{Token: tok, Kind: kind, Type: model.EventConverted})
	case errors.Is(err, executor.ErrConversionFailed), errors.Is(err, executor.ErrSourceInvalid):
		s.observe(kind, s.now().Sub(started))
		s.emit(ctx, model.Event{Token: tok, Kind: kind, Type: model.EventFailed, Detail: err.Error()})
	}
}

// Sweep evicts consumed and expired records of kind.
func (s *Service) Sweep(ctx context.Context, kind model.Kind) (registry.SweepResult, error) {
	st, err := s.store(kind)
	if err != nil {
		return registry.SweepResult{}, fmt.Errorf("sweep: %w", err)
	}

	return s.sweep(ctx, st), nil
}

// SweepAll sweeps every store.
func (s *Service) SweepAll(ctx context.Context) []registry.SweepResult {
	results := make([]registry.SweepResult, 0, len(s.stores))
	for _, k := range model.Kinds {
		if st, ok := s.stores[k]; ok {
			results = append(results, s.sweep(ctx, st))
		}
	}

	return results
}

func (s *Service) sweep(ctx context.Context, st *registry.Store) registry.SweepResult {
	res := s.sweeper.Sweep(st)

	for _, rec := range res.Evicted {
		reason := "expired"
		if rec.Consumed {
			reason = "delivered"
		}
		s.emit(ctx, model.Event{Token: rec.Token, Kind: rec.Kind, Type: model.EventEvicted, Detail: reason})
	}
	s.pending(st)

	return res
}

// emit fans an event out to metrics, the broker and the audit log.
// Delivery problems are logged and never fail the request.
func (s *Service) emit(ctx context.Context, ev model.Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}

	if s.metrics != nil {
		s.metrics.Event(ev)
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, ev); err != nil {
			zlog.Logger.Warn().Err(err).
				Str("token", ev.Token).
				Str("type", string(ev.Type)).
				Msg("failed to publish event")
		}
	}

	if s.audit != nil {
		if err := s.audit.SaveEvent(ctx, ev); err != nil {
			zlog.Logger.Warn().Err(err).
				Str("token", ev.Token).
				Str("type", string(ev.Type)).
				Msg("failed to save audit event")
		}
	}
}

func (s *Service) observe(kind model.Kind, took time.Duration) {
	if s.metrics != nil {
		s.metrics.Conversion(kind, took)
	}
}

func (s *Service) pending(st *registry.Store) {
	if s.metrics != nil {
		s.metrics.Pending(st.Kind(), st.Len())
	}
}

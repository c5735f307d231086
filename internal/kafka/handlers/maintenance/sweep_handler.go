package maintenance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/registry"
)

// service defines the sweep operations triggered by maintenance messages.
type service interface {
	Sweep(ctx context.Context, kind model.Kind) (registry.SweepResult, error)
	SweepAll(ctx context.Context) []registry.SweepResult
}

// SweepHandler handles Kafka messages requesting a sweep.
type SweepHandler struct {
	service service
}

// NewSweepHandler creates a new handler with the given service.
func NewSweepHandler(s service) *SweepHandler {
	return &SweepHandler{service: s}
}

// Handle sweeps the requested store, or every store when the message names no kind.
// Unknown kinds are reported as errors so the message is not committed.
func (h *SweepHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var req model.SweepRequest
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			return fmt.Errorf("unmarshal sweep request: %w", err)
		}
	}

	var results []registry.SweepResult
	if req.Kind == "" {
		results = h.service.SweepAll(ctx)
	} else {
		kind, ok := model.ParseKind(string(req.Kind))
		if !ok {
			return fmt.Errorf("sweep: unknown kind %q", req.Kind)
		}

		res, err := h.service.Sweep(ctx, kind)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		results = append(results, res)
	}

	evicted := 0
	for _, r := range results {
		evicted += len(r.Evicted)
	}

	zlog.Logger.Info().
		Str("kind", string(req.Kind)).
		Int("stores", len(results)).
		Int("evicted", evicted).
		Msg("maintenance sweep done")

	return nil
}

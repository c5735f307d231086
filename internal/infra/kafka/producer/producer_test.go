package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/toolbox/internal/model"
)

type fakeSender struct {
	key, value []byte
	strategy   retry.Strategy
	err        error
	closed     bool
}

func (f *fakeSender) SendWithRetry(_ context.Context, s retry.Strategy, key, value []byte) error {
	f.key, f.value, f.strategy = key, value, s
	return f.err
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func TestProducer_Publish(t *testing.T) {
	fs := &fakeSender{}
	strategy := retry.Strategy{Attempts: 2, Delay: time.Millisecond, Backoff: 1}
	p := &Producer{Client: fs, strategy: strategy}

	ev := model.Event{Token: "tok-1", Kind: model.KindAudio, Type: model.EventConverted, At: time.Unix(0, 0).UTC()}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if string(fs.key) != "tok-1" || fs.strategy != strategy {
		t.Fatalf("unexpected send: key=%s strategy=%+v", fs.key, fs.strategy)
	}

	var got model.Event
	if err := json.Unmarshal(fs.value, &got); err != nil {
		t.Fatalf("payload is not an event: %v", err)
	}
	if got.Token != ev.Token || got.Kind != ev.Kind || got.Type != ev.Type || !got.At.Equal(ev.At) {
		t.Fatalf("want %+v got %+v", ev, got)
	}

	if err := p.Close(); err != nil || !fs.closed {
		t.Fatalf("Close: %v closed=%v", err, fs.closed)
	}
}

func TestProducer_PublishError(t *testing.T) {
	boom := errors.New("broker unavailable")
	p := &Producer{Client: &fakeSender{err: boom}}

	if err := p.Publish(context.Background(), model.Event{Token: "t"}); !errors.Is(err, boom) {
		t.Fatalf("want wrapped broker error got %v", err)
	}
}

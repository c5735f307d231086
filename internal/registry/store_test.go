package registry

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/model"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

func TestStore_StageThenGet(t *testing.T) {
	s := NewStore(model.KindImage)

	params := model.Params{model.ParamTargetFormat: "png"}
	tok := s.Stage(model.Record{SourcePath: "/tmp/in.jpg", Params: params, DisplayName: "in.png"})

	got, err := s.Get(tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != tok || got.Kind != model.KindImage {
		t.Fatalf("unexpected identity: %#v", got)
	}
	if got.SourcePath != "/tmp/in.jpg" || got.DisplayName != "in.png" {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.Params[model.ParamTargetFormat] != "png" {
		t.Fatalf("unexpected params: %#v", got.Params)
	}
	if got.Consumed || got.OutputPath != "" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected initial state: %#v", got)
	}
}

func TestStore_ParamsImmutableAfterStage(t *testing.T) {
	s := NewStore(model.KindImage)

	params := model.Params{model.ParamTargetFormat: "png"}
	tok := s.Stage(model.Record{Params: params})
	params[model.ParamTargetFormat] = "gif"

	got, _ := s.Get(tok)
	got.Params[model.ParamTargetFormat] = "bmp"

	again, _ := s.Get(tok)
	if again.Params[model.ParamTargetFormat] != "png" {
		t.Fatalf("params mutated through caller copies: %#v", again.Params)
	}
}

func TestStore_StageKeepsCreatedAt(t *testing.T) {
	s := NewStore(model.KindAudio)

	created := time.Now().Add(-2 * time.Hour)
	tok := s.Stage(model.Record{CreatedAt: created})

	got, _ := s.Get(tok)
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("want created_at=%v got=%v", created, got.CreatedAt)
	}
}

func TestStore_StageRegeneratesCollidingToken(t *testing.T) {
	s := NewStore(model.KindImage)

	tokens := []string{"a", "a", "b"}
	s.newToken = func() string {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok
	}

	first := s.Stage(model.Record{})
	second := s.Stage(model.Record{})
	if first != "a" || second != "b" {
		t.Fatalf("want a, b got %s, %s", first, second)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore(model.KindImage)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestStore_MarkConsumedOnce(t *testing.T) {
	s := NewStore(model.KindImage)
	tok := s.Stage(model.Record{})

	if !s.MarkConsumed(tok) {
		t.Fatal("first MarkConsumed should flip the flag")
	}
	if s.MarkConsumed(tok) {
		t.Fatal("second MarkConsumed should be a no-op")
	}
	if s.MarkConsumed("missing") {
		t.Fatal("unknown token should be ignored")
	}

	got, _ := s.Get(tok)
	if !got.Consumed {
		t.Fatal("record should be consumed")
	}
}

func TestStore_SetOutputOnce(t *testing.T) {
	s := NewStore(model.KindImage)
	tok := s.Stage(model.Record{})

	if err := s.SetOutput(tok, "/out/a.png"); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	if err := s.SetOutput(tok, "/out/b.png"); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	if err := s.SetOutput("missing", "/out/c.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}

	got, _ := s.Get(tok)
	if got.OutputPath != "/out/a.png" {
		t.Fatalf("output path overwritten: %s", got.OutputPath)
	}
}

func TestStore_RemoveConsumedIsGone(t *testing.T) {
	s := NewStore(model.KindImage)

	delivered := s.Stage(model.Record{})
	s.MarkConsumed(delivered)
	s.Remove(delivered)

	abandoned := s.Stage(model.Record{})
	s.Remove(abandoned)

	if _, err := s.Get(delivered); !errors.Is(err, ErrGone) {
		t.Fatalf("want ErrGone for delivered token, got %v", err)
	}
	if _, err := s.Get(abandoned); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for abandoned token, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("want empty store, got %d", s.Len())
	}
}

func TestStore_All(t *testing.T) {
	s := NewStore(model.KindOCR)
	for i := 0; i < 3; i++ {
		s.Stage(model.Record{})
	}

	if got := len(s.All()); got != 3 {
		t.Fatalf("want 3 records got %d", got)
	}
}

func TestStore_AcquireSerializes(t *testing.T) {
	s := NewStore(model.KindImage)
	tok := s.Stage(model.Record{})

	lease, err := s.Acquire(tok)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		l, err := s.Acquire(tok)
		if l != nil {
			l.Release()
		}
		result <- err
	}()

	select {
	case err := <-result:
		t.Fatalf("second Acquire returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.MarkConsumed(tok)
	lease.Release()
	lease.Release()

	select {
	case err := <-result:
		if !errors.Is(err, ErrGone) {
			t.Fatalf("want ErrGone got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Acquire never returned")
	}
}

func TestStore_AcquireAfterRemove(t *testing.T) {
	s := NewStore(model.KindImage)
	tok := s.Stage(model.Record{})
	s.Remove(tok)

	if _, err := s.Acquire(tok); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestStore_ConcurrentStage(t *testing.T) {
	s := NewStore(model.KindImage)

	const workers, perWorker = 8, 250

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = make(map[string]struct{}, workers*perWorker)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tok := s.Stage(model.Record{})
				if _, err := s.Get(tok); err != nil {
					t.Errorf("Get after Stage: %v", err)
				}
				mu.Lock()
				tokens[tok] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(tokens) != workers*perWorker || s.Len() != workers*perWorker {
		t.Fatalf("want %d unique tokens, got %d (store has %d)", workers*perWorker, len(tokens), s.Len())
	}
}

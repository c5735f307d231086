package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/artifact"
	"github.com/aliskhannn/toolbox/internal/converter"
	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/registry"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

type fakeConverter struct {
	calls   atomic.Int32
	content string
	fail    func(call int32) error
	block   chan struct{}
}

func (f *fakeConverter) Kind() model.Kind { return model.KindImage }

func (f *fakeConverter) Prepare(in converter.Input) (converter.Staged, error) {
	return converter.Staged{Params: in.Params}, nil
}

func (f *fakeConverter) Convert(ctx context.Context, _, dst string, _ model.Params) error {
	n := f.calls.Add(1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := os.WriteFile(dst, []byte(f.content), 0o644); err != nil {
		return err
	}
	if f.fail != nil {
		return f.fail(n)
	}

	return nil
}

type fixture struct {
	dir   string
	store *registry.Store
	conv  *fakeConverter
	exec  *Executor
}

func newFixture(t *testing.T, conv *fakeConverter, timeout time.Duration) *fixture {
	t.Helper()

	dir := t.TempDir()
	return &fixture{
		dir:   dir,
		store: registry.NewStore(model.KindImage),
		conv:  conv,
		exec:  New(converter.NewRegistry(conv), dir, timeout),
	}
}

func (f *fixture) stage(t *testing.T, content string) string {
	t.Helper()

	src, err := os.CreateTemp(f.dir, "upload_*")
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	_, err = src.WriteString(content)
	src.Close()
	if err != nil {
		t.Fatalf("write source: %v", err)
	}

	return f.store.Stage(model.Record{
		SourcePath:  src.Name(),
		Params:      model.Params{model.ParamTargetFormat: "png"},
		DisplayName: "picture.png",
	})
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "png-bytes"}, 0)
	tok := f.stage(t, "source")

	path, err := f.exec.Execute(context.Background(), f.store, tok)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := artifact.Path(f.dir, model.KindImage, tok, model.Params{model.ParamTargetFormat: "png"})
	if path != want {
		t.Fatalf("want %s got %s", want, path)
	}
	if data, _ := os.ReadFile(path); string(data) != "png-bytes" {
		t.Fatalf("unexpected artifact %q", data)
	}
	if _, err := os.Stat(artifact.PartialPath(path)); !os.IsNotExist(err) {
		t.Fatalf("scratch file left behind: %v", err)
	}

	rec, _ := f.store.Get(tok)
	if rec.OutputPath != path || rec.Consumed {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestExecute_ReusesProducedArtifact(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "png-bytes"}, 0)
	tok := f.stage(t, "source")

	first, err := f.exec.Execute(context.Background(), f.store, tok)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := f.exec.Execute(context.Background(), f.store, tok)
	if err != nil {
		t.Fatalf("Execute again: %v", err)
	}

	if first != second || f.conv.calls.Load() != 1 {
		t.Fatalf("conversion repeated: %s %s calls=%d", first, second, f.conv.calls.Load())
	}
}

func TestExecute_FailureLeavesRecordRetryable(t *testing.T) {
	conv := &fakeConverter{
		content: "half written",
		fail: func(call int32) error {
			if call == 1 {
				return errors.New("codec exploded")
			}
			return nil
		},
	}
	f := newFixture(t, conv, 0)
	tok := f.stage(t, "source")

	_, err := f.exec.Execute(context.Background(), f.store, tok)
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("want ErrConversionFailed got %v", err)
	}

	var ce *ConversionError
	if !errors.As(err, &ce) || ce.Token != tok || ce.Detail != "codec exploded" {
		t.Fatalf("unexpected error %#v", err)
	}

	rec, err := f.store.Get(tok)
	if err != nil || rec.Consumed || rec.OutputPath != "" {
		t.Fatalf("record should stay staged: %#v %v", rec, err)
	}

	dst := artifact.Path(f.dir, model.KindImage, tok, rec.Params)
	for _, p := range []string{dst, artifact.PartialPath(dst)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("failed attempt left %s behind", p)
		}
	}

	if _, err := f.exec.Execute(context.Background(), f.store, tok); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.conv.calls.Load() != 2 {
		t.Fatalf("want 2 attempts got %d", f.conv.calls.Load())
	}
}

func TestExecute_EmptyOutputFails(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: ""}, 0)
	tok := f.stage(t, "source")

	if _, err := f.exec.Execute(context.Background(), f.store, tok); !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("want ErrConversionFailed got %v", err)
	}
}

func TestExecute_SourceInvalid(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "x"}, 0)

	empty := f.stage(t, "")
	missing := f.store.Stage(model.Record{SourcePath: filepath.Join(f.dir, "nope")})

	for _, tok := range []string{empty, missing} {
		if _, err := f.exec.Execute(context.Background(), f.store, tok); !errors.Is(err, ErrSourceInvalid) {
			t.Fatalf("want ErrSourceInvalid got %v", err)
		}
	}
	if f.conv.calls.Load() != 0 {
		t.Fatal("converter must not run without a source")
	}
}

func TestExecute_UnknownToken(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "x"}, 0)

	if _, err := f.exec.Execute(context.Background(), f.store, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestExecute_NoConverter(t *testing.T) {
	dir := t.TempDir()
	s := registry.NewStore(model.KindAudio)
	src := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(src, []byte("riff"), 0o644); err != nil {
		t.Fatal(err)
	}
	tok := s.Stage(model.Record{SourcePath: src})

	_, err := New(converter.NewRegistry(), dir, 0).Execute(context.Background(), s, tok)
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("want ErrConversionFailed got %v", err)
	}
}

func TestExecute_Timeout(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "x", block: make(chan struct{})}, 20*time.Millisecond)
	tok := f.stage(t, "source")

	_, err := f.exec.Execute(context.Background(), f.store, tok)
	if !errors.Is(err, ErrConversionFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want timeout failure got %v", err)
	}
}

func TestExecute_IgnoresCallerCancellation(t *testing.T) {
	conv := &fakeConverter{content: "x", block: make(chan struct{})}
	f := newFixture(t, conv, 0)
	tok := f.stage(t, "source")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.exec.Execute(ctx, f.store, tok)
		done <- err
	}()

	for conv.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(conv.block)

	if err := <-done; err != nil {
		t.Fatalf("conversion should survive caller cancellation: %v", err)
	}
}

func TestDownload_DeliversOnce(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "png-bytes"}, 0)
	tok := f.stage(t, "source")

	d, err := f.exec.Download(context.Background(), f.store, tok)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if d.DisplayName != "picture.png" || d.ContentType != "image/png" || d.Size != int64(len("png-bytes")) {
		t.Fatalf("unexpected delivery %+v", d)
	}
	if d.Token() != tok || d.Kind() != model.KindImage {
		t.Fatalf("unexpected identity %s %s", d.Token(), d.Kind())
	}

	var hooked model.Record
	d.OnClose(func(rec model.Record) { hooked = rec })

	data, err := io.ReadAll(d)
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("read: %q %v", data, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = d.Close()

	if !hooked.Consumed || hooked.Token != tok {
		t.Fatalf("hook got %#v", hooked)
	}
	if _, err := f.exec.Download(context.Background(), f.store, tok); !errors.Is(err, registry.ErrGone) {
		t.Fatalf("want ErrGone got %v", err)
	}
	if _, err := f.exec.Execute(context.Background(), f.store, tok); !errors.Is(err, registry.ErrGone) {
		t.Fatalf("want ErrGone got %v", err)
	}
}

func TestDownload_AbortStillConsumes(t *testing.T) {
	f := newFixture(t, &fakeConverter{content: "png-bytes"}, 0)
	tok := f.stage(t, "source")

	d, err := f.exec.Download(context.Background(), f.store, tok)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	_ = d.Close()

	rec, err := f.store.Get(tok)
	if err != nil || !rec.Consumed {
		t.Fatalf("aborted delivery should consume: %#v %v", rec, err)
	}
}

func TestDownload_FailureReleasesToken(t *testing.T) {
	conv := &fakeConverter{content: "x", fail: func(int32) error { return errors.New("boom") }}
	f := newFixture(t, conv, 0)
	tok := f.stage(t, "source")

	if _, err := f.exec.Download(context.Background(), f.store, tok); !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("want ErrConversionFailed got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.exec.Download(context.Background(), f.store, tok)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConversionFailed) {
			t.Fatalf("want ErrConversionFailed got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("token stayed leased after a failed download")
	}
}

func TestDownload_ConcurrentSameToken(t *testing.T) {
	conv := &fakeConverter{content: "png-bytes", block: make(chan struct{})}
	f := newFixture(t, conv, 0)
	tok := f.stage(t, "source")

	const downloaders = 4

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		gone      atomic.Int32
	)
	for i := 0; i < downloaders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			d, err := f.exec.Download(context.Background(), f.store, tok)
			if errors.Is(err, registry.ErrGone) {
				gone.Add(1)
				return
			}
			if err != nil {
				t.Errorf("Download: %v", err)
				return
			}
			defer d.Close()

			if data, err := io.ReadAll(d); err != nil || string(data) != "png-bytes" {
				t.Errorf("read: %q %v", data, err)
				return
			}
			successes.Add(1)
		}()
	}

	for conv.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(conv.block)
	wg.Wait()

	if successes.Load() != 1 || gone.Load() != downloaders-1 {
		t.Fatalf("want 1 success and %d gone, got %d and %d", downloaders-1, successes.Load(), gone.Load())
	}
	if conv.calls.Load() != 1 {
		t.Fatalf("conversion ran %d times", conv.calls.Load())
	}
}

package executor

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/registry"
)

const defaultContentType = "application/octet-stream"

// Delivery streams a produced artifact to exactly one requester.
//
// The token stays leased until Close. Close marks the record consumed
// whether or not the stream was read to the end.
type Delivery struct {
	DisplayName string
	ContentType string
	Size        int64

	file   *os.File
	store  store
	lease  *registry.Lease
	record model.Record

	once    sync.Once
	onClose []func(model.Record)
}

// Download executes the conversion if needed and opens the artifact for streaming.
func (e *Executor) Download(ctx context.Context, s store, tok string) (*Delivery, error) {
	lease, err := s.Acquire(tok)
	if err != nil {
		return nil, err
	}

	path, err := e.run(ctx, s, lease)
	if err != nil {
		lease.Release()
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		lease.Release()
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		lease.Release()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	rec := lease.Record()

	name := rec.DisplayName
	if name == "" {
		name = filepath.Base(path)
	}

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = defaultContentType
	}

	return &Delivery{
		DisplayName: name,
		ContentType: ct,
		Size:        fi.Size(),
		file:        f,
		store:       s,
		lease:       lease,
		record:      rec,
	}, nil
}

// Token returns the token being delivered.
func (d *Delivery) Token() string {
	return d.record.Token
}

// Kind returns the kind of the delivered record.
func (d *Delivery) Kind() model.Kind {
	return d.record.Kind
}

// OnClose registers fn to run after the delivery is finalized and the lease released.
// It must be called before Close.
func (d *Delivery) OnClose(fn func(model.Record)) {
	d.onClose = append(d.onClose, fn)
}

func (d *Delivery) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

// Close finishes the delivery. It is safe to call more than once.
func (d *Delivery) Close() error {
	var err error

	d.once.Do(func() {
		err = d.file.Close()

		d.store.MarkConsumed(d.record.Token)
		d.record.Consumed = true
		d.lease.Release()

		for _, fn := range d.onClose {
			fn(d.record)
		}
	})

	return err
}

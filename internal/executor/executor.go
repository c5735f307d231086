// Package executor runs staged conversions and hands out their artifacts.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/artifact"
	"github.com/aliskhannn/toolbox/internal/converter"
	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/registry"
)

var (
	// ErrSourceInvalid is returned when the staged source is missing or empty.
	ErrSourceInvalid = errors.New("source file missing or empty")
	// ErrConversionFailed is matched by every *ConversionError.
	ErrConversionFailed = errors.New("conversion failed")
)

// ConversionError describes a failed transformation of one token.
type ConversionError struct {
	Kind   model.Kind
	Token  string
	Detail string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s %s: %s", e.Kind, e.Token, e.Detail)
}

func (e *ConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConversionFailed}
	}

	return []error{ErrConversionFailed, e.Err}
}

// converters resolves the converter for a kind.
type converters interface {
	Lookup(kind model.Kind) (converter.Converter, bool)
}

// store is the part of the pending-conversion store used by the executor.
type store interface {
	Kind() model.Kind
	Acquire(tok string) (*registry.Lease, error)
	SetOutput(tok, path string) error
	MarkConsumed(tok string) bool
}

// Executor performs conversions at most once per token.
type Executor struct {
	converters converters
	outputDir  string
	timeout    time.Duration
}

// New creates an Executor writing artifacts into outputDir.
// A zero timeout lets conversions run until the converter returns.
func New(converters converters, outputDir string, timeout time.Duration) *Executor {
	return &Executor{
		converters: converters,
		outputDir:  outputDir,
		timeout:    timeout,
	}
}

// Execute converts the record staged under tok and returns the artifact path.
// Concurrent calls for the same token are serialized; the second one reuses
// the artifact produced by the first.
func (e *Executor) Execute(ctx context.Context, s store, tok string) (string, error) {
	lease, err := s.Acquire(tok)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	return e.run(ctx, s, lease)
}

// run does the work for a held lease. The store lock is not held here.
func (e *Executor) run(ctx context.Context, s store, lease *registry.Lease) (string, error) {
	rec := lease.Record()

	if rec.OutputPath != "" && nonEmpty(rec.OutputPath) {
		return rec.OutputPath, nil
	}

	dst := artifact.Path(e.outputDir, rec.Kind, rec.Token, rec.Params)
	if nonEmpty(dst) {
		if err := s.SetOutput(rec.Token, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	if !nonEmpty(rec.SourcePath) {
		return "", fmt.Errorf("execute %s %s: %w", rec.Kind, rec.Token, ErrSourceInvalid)
	}

	conv, ok := e.converters.Lookup(rec.Kind)
	if !ok {
		return "", &ConversionError{Kind: rec.Kind, Token: rec.Token, Detail: "no converter registered"}
	}

	// Conversions are not cancelled when the requester goes away.
	ctx = context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	part := artifact.PartialPath(dst)
	_ = os.Remove(part)

	started := time.Now()
	if err := conv.Convert(ctx, rec.SourcePath, part, rec.Params); err != nil {
		_ = os.Remove(part)

		zlog.Logger.Err(err).
			Str("kind", string(rec.Kind)).
			Str("token", rec.Token).
			Msg("conversion failed")

		return "", &ConversionError{Kind: rec.Kind, Token: rec.Token, Detail: err.Error(), Err: err}
	}

	if !nonEmpty(part) {
		_ = os.Remove(part)
		return "", &ConversionError{Kind: rec.Kind, Token: rec.Token, Detail: "converter produced no output"}
	}

	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return "", &ConversionError{Kind: rec.Kind, Token: rec.Token, Detail: "failed to store artifact", Err: err}
	}

	if err := s.SetOutput(rec.Token, dst); err != nil {
		return "", err
	}

	zlog.Logger.Info().
		Str("kind", string(rec.Kind)).
		Str("token", rec.Token).
		Dur("took", time.Since(started)).
		Msg("conversion finished")

	return dst, nil
}

// nonEmpty reports whether path is a regular file with content.
func nonEmpty(path string) bool {
	if path == "" {
		return false
	}

	fi, err := os.Stat(path)

	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

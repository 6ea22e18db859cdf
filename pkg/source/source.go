// Package source resolves workbook locations to local files.
//
// A location is a local path, a file:// URL or an sftp:// URL. Remote
// workbooks are downloaded to a temporary file which the caller removes
// with Local.Cleanup. Every resolved workbook carries the SHA-256 of its
// bytes so imports can skip content they have already stored.
package source

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

const tracerName = "github.com/maxexplode/fastexcel/pkg/source"

// Local is a workbook available on the local file system.
type Local struct {
	// Path is the file to open.
	Path string

	// Location is the parsed location the file was resolved from.
	Location Location

	// Checksum is the hex SHA-256 of the file contents.
	Checksum string

	// Size is the file size in bytes.
	Size int64

	cleanup func() error
}

// Cleanup removes any temporary file created for the workbook. It is safe
// to call more than once and is a no-op for local paths.
func (l *Local) Cleanup() error {
	if l == nil || l.cleanup == nil {
		return nil
	}
	fn := l.cleanup
	l.cleanup = nil
	return fn()
}

// Resolver turns locations into local files.
type Resolver struct {
	ssh     SSHConfig
	tempDir string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics records fetch counts and durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithTracer starts fetch spans on t instead of the global provider.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// WithTempDir sets the directory for downloaded workbooks.
func WithTempDir(dir string) Option {
	return func(r *Resolver) { r.tempDir = dir }
}

// NewResolver creates a resolver. ssh supplies defaults for sftp locations.
func NewResolver(ssh SSHConfig, opts ...Option) *Resolver {
	r := &Resolver{ssh: ssh, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve makes the workbook at raw available locally.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Local, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, &FetchError{Op: "parse", Location: raw, Err: err}
	}

	ctx, span := r.startSpan(ctx, loc)
	defer span.End()

	start := time.Now()
	var local *Local
	switch loc.Scheme {
	case SchemeSFTP:
		local, err = r.fetchSFTP(ctx, loc)
	default:
		local, err = r.statLocal(loc)
	}

	status := "success"
	if err != nil {
		status = "failure"
		telemetry.RecordError(span, err)
	} else {
		span.SetAttributes(attribute.Int64("source.bytes", local.Size))
		telemetry.RecordSuccess(span)
	}
	r.metrics.RecordSourceFetch(loc.Scheme, status, time.Since(start))
	return local, err
}

func (r *Resolver) startSpan(ctx context.Context, loc Location) (context.Context, trace.Span) {
	if r.tracer != nil {
		return r.tracer.StartSourceSpan(ctx, loc.Scheme, loc.String())
	}
	return otel.Tracer(tracerName).Start(ctx, "source."+loc.Scheme, trace.WithAttributes(
		telemetry.AttrSourceScheme.String(loc.Scheme),
		telemetry.AttrSource.String(loc.String()),
	))
}

func (r *Resolver) statLocal(loc Location) (*Local, error) {
	sum, size, err := Checksum(loc.Path)
	if err != nil {
		return nil, &FetchError{Op: "stat", Location: loc.String(), Err: err}
	}
	return &Local{Path: loc.Path, Location: loc, Checksum: sum, Size: size}, nil
}

func (r *Resolver) fetchSFTP(ctx context.Context, loc Location) (*Local, error) {
	f, err := os.CreateTemp(r.tempDir, "fastexcel-*-"+loc.Name())
	if err != nil {
		return nil, &FetchError{Op: "download", Location: loc.String(), Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	remove := func() error {
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	size, sum, err := downloadSFTP(ctx, r.logger, r.ssh, loc, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &FetchError{Op: "download", Location: loc.String(), Err: cerr}
	}
	if err != nil {
		_ = remove()
		return nil, err
	}

	return &Local{
		Path:     f.Name(),
		Location: loc,
		Checksum: sum,
		Size:     size,
		cleanup:  remove,
	}, nil
}

// Checksum returns the hex SHA-256 and size of the file at path.
func Checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}

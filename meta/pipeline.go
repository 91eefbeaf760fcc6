package meta

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "rootfs-meta/meta"

// Pipeline loads, verifies and interprets the metadata of a rootfs candidate.
//
// A Pipeline holds no per-run state; concurrent Load calls on different devices are safe as
// long as the configured collaborators are.
type Pipeline struct {
	Layout Layout
	Limits Limits

	// Open opens a device for reading, OpenDevice when nil.
	Open func(path string) (Device, error)
	// Verifier checks the metadata signature, KeyFileVerifier when nil.
	Verifier SignatureVerifier
	// Keys resolves dm-integrity key descriptors, the user keyring when nil.
	Keys KeyResolver

	Logger logrus.FieldLogger
	Tracer trace.Tracer
}

// NewPipeline returns a Pipeline with the default layout and limits.
func NewPipeline(verifier SignatureVerifier, keys KeyResolver, logger logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		Layout:   DefaultLayout,
		Limits:   DefaultLimits,
		Verifier: verifier,
		Keys:     keys,
		Logger:   logger,
	}
}

// loadRun carries the intermediate results of one Load call.
type loadRun struct {
	id         ulid.ULID
	devicePath string
	keyFile    string
	logger     logrus.FieldLogger

	region    []byte
	message   []byte
	signature []byte
	meta      *RootfsMetadata
}

type stage struct {
	name string
	fn   func(p *Pipeline, ctx context.Context, r *loadRun) error
}

// loadStages run strictly in order, the first failure ends the run.
var loadStages = immutable.NewList[*stage](
	&stage{name: "read", fn: (*Pipeline).read},
	&stage{name: "scan", fn: (*Pipeline).scan},
	&stage{name: "verify", fn: (*Pipeline).verify},
	&stage{name: "parse", fn: (*Pipeline).parse},
)

// Load reads the metadata region of devicePath, verifies its signature with keyFile and
// returns the populated record. On any failure no record is returned; the cause can be
// classified with Kind.
func (p *Pipeline) Load(ctx context.Context, devicePath, keyFile string) (*RootfsMetadata, error) {
	if devicePath == "" || keyFile == "" {
		return nil, fmt.Errorf("%w: device path and key file are required", ErrInvalidArgument)
	}

	r := &loadRun{
		id:         ulid.Make(),
		devicePath: devicePath,
		keyFile:    keyFile,
	}
	r.logger = p.logger().WithFields(logrus.Fields{
		"run_id": r.id.String(),
		"device": devicePath,
	})

	ctx, span := p.tracer().Start(ctx, "rootfs_meta.load",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("rootfs_meta.run_id", r.id.String()),
			attribute.String("rootfs_meta.device", devicePath),
		),
	)
	defer span.End()

	err := p.runStages(ctx, r)
	observeLoad(err)
	if err != nil {
		span.SetAttributes(attribute.String("rootfs_meta.error_kind", Kind(err).String()))
		span.SetStatus(codes.Error, err.Error())
		r.logger.WithError(err).WithField("kind", Kind(err)).Error("rootfs metadata rejected")
		return nil, err
	}

	span.SetAttributes(attribute.String("rootfs_meta.features", r.meta.Crypt.String()))
	r.logger.WithFields(logrus.Fields{
		"fs_type":   r.meta.FSType,
		"mode":      r.meta.Mode(),
		"features":  r.meta.Crypt.String(),
		"data_size": humanize.IBytes(r.meta.DataSizeBytes),
	}).Info("rootfs metadata verified")
	return r.meta, nil
}

func (p *Pipeline) runStages(ctx context.Context, r *loadRun) error {
	iter := loadStages.Iterator()
	for !iter.Done() {
		_, s := iter.Next()
		logger := r.logger.WithField("stage", s.name)
		logger.Debug("running stage")

		stageCtx, span := p.tracer().Start(ctx, "rootfs_meta."+s.name, trace.WithSpanKind(trace.SpanKindInternal))
		start := time.Now()
		err := s.fn(p, stageCtx, r)
		observeStage(s.name, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		span.End()
		logger.Debug("stage completed")
	}
	return nil
}

func (p *Pipeline) read(_ context.Context, r *loadRun) error {
	open := p.Open
	if open == nil {
		open = OpenDevice
	}
	dev, err := open(r.devicePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			r.logger.WithError(err).Warn("failed to close device")
		}
	}()

	layout := p.layout()
	region, err := ReadRegion(dev, layout.RegionSize)
	if err != nil {
		return fmt.Errorf("could not read metadata of '%s': %w", r.devicePath, err)
	}
	r.region = region
	return nil
}

func (p *Pipeline) scan(_ context.Context, r *loadRun) error {
	msg, sig, err := ScanRegion(r.region, p.layout().SignatureLength)
	if err != nil {
		return fmt.Errorf("could not interpret metadata from '%s': %w", r.devicePath, err)
	}
	r.message, r.signature = msg, sig
	return nil
}

func (p *Pipeline) verify(_ context.Context, r *loadRun) error {
	verifier := p.Verifier
	if verifier == nil {
		verifier = KeyFileVerifier{}
	}
	if err := verifier.VerifySignature(r.message, r.signature, r.keyFile); err != nil {
		return fmt.Errorf("%w: metadata signature on partition '%s': %w", ErrSignature, r.devicePath, err)
	}
	r.logger.WithField("key_file", r.keyFile).Info("metadata signature verified")
	return nil
}

func (p *Pipeline) parse(_ context.Context, r *loadRun) error {
	limits := p.Limits.withDefaults()
	keys := p.Keys
	if keys == nil {
		keys = KeyringResolver{MaxPayload: limits.KeyPayloadMax}
	}
	parser := &Parser{
		Keys:   keys,
		Limits: limits,
		Logger: r.logger,
	}
	m, err := parser.Parse(r.devicePath, r.message)
	if err != nil {
		return fmt.Errorf("parsing of partition metadata failed: %w", err)
	}
	r.meta = m
	return nil
}

func (p *Pipeline) layout() Layout {
	l := p.Layout
	if l.RegionSize <= 0 {
		l.RegionSize = DefaultLayout.RegionSize
	}
	if l.SignatureLength <= 0 {
		l.SignatureLength = DefaultLayout.SignatureLength
	}
	return l
}

func (p *Pipeline) logger() logrus.FieldLogger {
	if p.Logger != nil {
		return p.Logger
	}
	return logrus.StandardLogger()
}

func (p *Pipeline) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return otel.Tracer(tracerName)
}

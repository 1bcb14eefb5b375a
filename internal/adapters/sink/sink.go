// Package sink delivers platform-adjusted artifacts.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/trendcast/internal/adapters/platform"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/pkg/logger"
)

// TopicPrefix prefixes every delivery topic.
const TopicPrefix = "deliveries."

var deliveryNamespace = uuid.MustParse("9d3e7c55-1a2b-4e8f-b6d0-7f4c2e1a9b38")

// Topic is the delivery topic for a source.
func Topic(sourceID string) string {
	return TopicPrefix + sourceID
}

// DeliveryID is stable per variant and source, so a retried delivery
// publishes the same message id.
func DeliveryID(variantID, sourceID string) string {
	return uuid.NewSHA1(deliveryNamespace, []byte(variantID+"|"+sourceID)).String()
}

// Message is the published payload.
type Message struct {
	SourceID    string   `json:"source_id"`
	VariantID   string   `json:"variant_id"`
	TrendID     string   `json:"trend_id"`
	ArtifactRef string   `json:"artifact_ref"`
	DurationSec float64  `json:"duration_sec"`
	HookAtSec   int      `json:"hook_at_sec,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Option configures a sink.
type Option func(*options)

type options struct {
	now func() time.Time
	log logger.Logger
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, log: logger.Get().Named("sink")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the delivery timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the sink logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// PubSubSink publishes deliveries to a watermill publisher.
type PubSubSink struct {
	id   string
	pub  message.Publisher
	opts options
}

var _ platform.Sink = (*PubSubSink)(nil)

// NewPubSubSink creates a sink for one source.
func NewPubSubSink(sourceID string, pub message.Publisher, opts ...Option) *PubSubSink {
	return &PubSubSink{id: sourceID, pub: pub, opts: newOptions(opts)}
}

// NewInProcessPubSub returns the in-process gochannel pub/sub used when no
// broker is configured.
func NewInProcessPubSub(l logger.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, NewWatermillLogger(l))
}

func (s *PubSubSink) SourceID() string { return s.id }

// Adapt implements platform.Sink.
func (s *PubSubSink) Adapt(ctx context.Context, variant model.Variant, adj model.PlatformAdjustment) (model.DeliveredArtifact, error) {
	data, err := json.Marshal(Message{
		SourceID:    s.id,
		VariantID:   variant.VariantID,
		TrendID:     variant.Parameters.TrendID,
		ArtifactRef: adj.ArtifactRef,
		DurationSec: adj.DurationSec,
		HookAtSec:   adj.HookAtSec,
		AspectRatio: adj.AspectRatio,
		Tags:        adj.Tags,
	})
	if err != nil {
		return model.DeliveredArtifact{}, fmt.Errorf("marshal delivery: %w", err)
	}

	id := DeliveryID(variant.VariantID, s.id)
	msg := message.NewMessage(id, data)
	msg.SetContext(ctx)
	msg.Metadata.Set("source_id", s.id)
	msg.Metadata.Set("variant_id", variant.VariantID)

	topic := Topic(s.id)
	if err := s.pub.Publish(topic, msg); err != nil {
		return model.DeliveredArtifact{}, fmt.Errorf("publish %s: %w", topic, err)
	}
	return model.DeliveredArtifact{
		SourceID:    s.id,
		VariantID:   variant.VariantID,
		ArtifactRef: adj.ArtifactRef,
		DeliveryRef: topic + "/" + id,
		DeliveredAt: s.opts.now().UTC(),
	}, nil
}

// LogSink records deliveries in the log only.
type LogSink struct {
	id   string
	opts options
}

var _ platform.Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink for one source.
func NewLogSink(sourceID string, opts ...Option) *LogSink {
	return &LogSink{id: sourceID, opts: newOptions(opts)}
}

func (s *LogSink) SourceID() string { return s.id }

// Adapt implements platform.Sink.
func (s *LogSink) Adapt(ctx context.Context, variant model.Variant, adj model.PlatformAdjustment) (model.DeliveredArtifact, error) {
	id := DeliveryID(variant.VariantID, s.id)
	s.opts.log.Info(ctx, "artifact delivered",
		logger.String("source_id", s.id),
		logger.String("variant_id", variant.VariantID),
		logger.String("artifact_ref", adj.ArtifactRef),
		logger.Float64("duration_sec", adj.DurationSec),
		logger.Strings("tags", adj.Tags),
	)
	return model.DeliveredArtifact{
		SourceID:    s.id,
		VariantID:   variant.VariantID,
		ArtifactRef: adj.ArtifactRef,
		DeliveryRef: "log/" + id,
		DeliveredAt: s.opts.now().UTC(),
	}, nil
}

// watermillLogger routes watermill's logs through logger.Logger.
type watermillLogger struct {
	log    logger.Logger
	fields watermill.LogFields
}

// NewWatermillLogger adapts l to watermill.LoggerAdapter.
func NewWatermillLogger(l logger.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = logger.Get().Named("watermill")
	}
	return &watermillLogger{log: l}
}

func (w *watermillLogger) convert(fields watermill.LogFields) []logger.Field {
	merged := w.fields.Add(fields)
	out := make([]logger.Field, 0, len(merged))
	for k, v := range merged {
		out = append(out, logger.Any(k, v))
	}
	return out
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Error(context.Background(), msg, append(w.convert(fields), logger.Error(err))...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Info(context.Background(), msg, w.convert(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debug(context.Background(), msg, w.convert(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.Debug(context.Background(), msg, w.convert(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log, fields: w.fields.Add(fields)}
}

package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeeves-cluster-organization/leadflow/commbus"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

// Sink receives validated email batches. Delivery is out of scope for the
// pipeline; a sink only records or forwards.
type Sink interface {
	Deliver(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error {
	return f(ctx, env, batch)
}

// LogSink writes every batch to the log.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogSink{logger: logger.Bind("component", "send_sink")}
}

// Deliver logs the batch. Subjects and recipients are only logged at debug level.
func (s *LogSink) Deliver(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error {
	campaign := ""
	if batch.CampaignType != nil {
		campaign = string(*batch.CampaignType)
	}
	s.logger.Info("email_batch_received",
		"envelope_id", env.EnvelopeID,
		"company", env.Lead.CompanyName,
		"campaign_type", campaign,
		"emails", len(batch.Emails),
	)
	for i, d := range batch.Emails {
		s.logger.Debug("email_draft", "envelope_id", env.EnvelopeID, "index", i, "to", d.To, "subject", d.Subject)
	}
	return nil
}

// BusSink forwards batches to a delivery topic.
type BusSink struct {
	publisher commbus.Publisher
	topic     string
}

// DefaultDeliveryTopic is used by BusSink when no topic is configured.
const DefaultDeliveryTopic = "email-delivery"

// NewBusSink creates a BusSink.
func NewBusSink(publisher commbus.Publisher, topic string) *BusSink {
	if topic == "" {
		topic = DefaultDeliveryTopic
	}
	return &BusSink{publisher: publisher, topic: topic}
}

// deliveryMessage is what BusSink publishes.
type deliveryMessage struct {
	EnvelopeID string          `json:"envelope_id"`
	Lead       lead.Record     `json:"lead_data"`
	Batch      lead.EmailBatch `json:"email_batch"`
}

// Deliver publishes the batch.
func (s *BusSink) Deliver(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error {
	raw, err := json.Marshal(deliveryMessage{EnvelopeID: env.EnvelopeID, Lead: env.Lead, Batch: batch})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	if err := s.publisher.Publish(ctx, s.topic, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// =============================================================================
// SEND STAGE
// =============================================================================

// Send is the terminal stage. It validates the batch and hands it to a sink.
type Send struct {
	sink   Sink
	logger logging.Logger
}

var _ Processor = (*Send)(nil)

// NewSend creates the send stage.
func NewSend(sink Sink, logger logging.Logger) *Send {
	if logger == nil {
		logger = logging.Nop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Send{sink: sink, logger: logger.Bind("component", "stage", "stage", string(envelope.StageSend))}
}

// Stage returns envelope.StageSend.
func (s *Send) Stage() envelope.Stage {
	return envelope.StageSend
}

// Process decodes, validates and delivers one batch.
func (s *Send) Process(ctx context.Context, env envelope.Envelope) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "stage.process")
	span.SetAttributes(
		attribute.String("stage", string(envelope.StageSend)),
		attribute.String("envelope_id", env.EnvelopeID),
	)
	log := s.logger.Bind("envelope_id", env.EnvelopeID, "company", env.Lead.CompanyName)
	start := time.Now()
	log.Debug("stage_transition", "state", StateReceived)

	defer func() {
		outcome, reason := Classify(err)
		observability.RecordStageOutcome(string(envelope.StageSend), outcome, reason, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("stage_dropped", "reason", reason, "error", err)
		}
		span.End()
	}()

	var batch lead.EmailBatch
	if err := json.Unmarshal([]byte(env.Context), &batch); err != nil {
		return fmt.Errorf("%w: email batch: %v", ErrValidationFailed, err)
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := s.sink.Deliver(ctx, env, batch); err != nil {
		if errors.Is(err, ErrPublishFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	log.Info("stage_emitted", "emails", len(batch.Emails))
	return nil
}

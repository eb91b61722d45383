package ingest

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"openlegalrag/internal/pkg/logger"
)

const TopicProgress = "ingest.progress"

const (
	EventOpinionIngested = "opinion.ingested"
	EventOpinionSkipped  = "opinion.skipped"
	EventCaseFiltered    = "case.filtered"
	EventRecordSkipped   = "record.skipped"
	EventRunCompleted    = "run.completed"
)

type Event struct {
	Type      string   `json:"type"`
	CaseID    string   `json:"case_id,omitempty"`
	OpinionID string   `json:"opinion_id,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Chunks    int      `json:"chunks,omitempty"`
	Line      int      `json:"line,omitempty"`
	Summary   *Summary `json:"summary,omitempty"`
}

// NewProgressBus returns an in-process pub/sub for progress events. Publish
// waits for subscribers to ack, so events arrive in the order they were sent
// and run.completed is the last one delivered.
func NewProgressBus(log logger.ILogger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(log, "ingest.events"))
}

func DecodeEvent(msg *message.Message) (Event, error) {
	var e Event
	err := json.Unmarshal(msg.Payload, &e)
	return e, err
}

func encodeEvent(e Event) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return message.NewMessage(uuid.NewString(), payload), nil
}

// watermillLogger adapts ILogger to watermill.LoggerAdapter.
type watermillLogger struct {
	log    logger.ILogger
	module string
	fields watermill.LogFields
}

func NewWatermillLogger(log logger.ILogger, module string) watermill.LoggerAdapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &watermillLogger{log: log, module: module}
}

func (w *watermillLogger) details(fields watermill.LogFields) map[string]interface{} {
	out := make(map[string]interface{}, len(w.fields)+len(fields))
	for k, v := range w.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	d := w.details(fields)
	d["error"] = err
	w.log.Error(w.module, msg, d)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Info(w.module, msg, w.details(fields))
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debug(w.module, msg, w.details(fields))
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.Debug(w.module, msg, w.details(fields))
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log, module: w.module, fields: w.fields.Add(fields)}
}

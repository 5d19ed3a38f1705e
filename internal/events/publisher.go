package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	StreamImports = "IMPORT_EVENTS"

	ImportStarted   = "import.started"
	ImportCompleted = "import.completed"
	ImportCancelled = "import.cancelled"
	ImportFailed    = "import.failed"
)

// ImportEvent is the payload published on every import lifecycle transition.
type ImportEvent struct {
	EventID     string              `json:"eventId"`
	EventType   string              `json:"eventType"`
	Timestamp   time.Time           `json:"timestamp"`
	JobID       string              `json:"jobId"`
	Status      models.ImportStatus `json:"status"`
	Filename    string              `json:"filename,omitempty"`
	RequestedBy string              `json:"requestedBy,omitempty"`
	TotalRows   int                 `json:"totalRows"`
	Created     int                 `json:"created"`
	Updated     int                 `json:"updated"`
	ErrorCount  int                 `json:"errorCount"`
	Message     string              `json:"message,omitempty"`
}

// Publisher publishes import events to JetStream
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Entry
}

// NewPublisher connects to NATS and makes sure the import stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	log := logger.WithField("component", "import-events")

	nc, err := nats.Connect(natsURL,
		nats.Name("catalog-import-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("Disconnected from NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamImports,
		Subjects:  []string{"import.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour * 7,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to ensure import stream (may already exist)")
	}

	return &Publisher{nc: nc, js: js, logger: log}, nil
}

// Close drains the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// PublishImportEvent publishes eventType for the given job snapshot.
func (p *Publisher) PublishImportEvent(ctx context.Context, eventType string, job models.ImportJob) error {
	event := NewImportEvent(eventType, job)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal import event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := p.js.Publish(pubCtx, eventType, data); err != nil {
		p.logger.WithFields(logrus.Fields{
			"eventType": eventType,
			"job_id":    job.ID,
		}).WithError(err).Error("Failed to publish import event")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"eventType": eventType,
		"job_id":    job.ID,
		"status":    job.Status,
	}).Debug("Import event published")
	return nil
}

// NewImportEvent builds the event payload from a job snapshot
func NewImportEvent(eventType string, job models.ImportJob) ImportEvent {
	return ImportEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		Timestamp:   time.Now().UTC(),
		JobID:       job.ID,
		Status:      job.Status,
		Filename:    job.Filename,
		RequestedBy: job.RequestedBy,
		TotalRows:   job.TotalRows,
		Created:     job.Created,
		Updated:     job.Updated,
		ErrorCount:  job.ErrorCount,
		Message:     job.Message,
	}
}

// EventTypeFor maps a terminal status to its event subject.
func EventTypeFor(status models.ImportStatus) string {
	switch status {
	case models.ImportStatusDone:
		return ImportCompleted
	case models.ImportStatusCancelled:
		return ImportCancelled
	case models.ImportStatusError:
		return ImportFailed
	default:
		return ImportStarted
	}
}

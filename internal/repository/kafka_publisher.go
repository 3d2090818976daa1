package repository

import (
	"context"
	"fmt"

	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	pkgkafka "LighthouseMacro/pkg/kafka"
)

// KafkaPublisher emits one run-summary message per run and one message per
// revision event, keyed by series so a consumer sees a series' vintages in order.
type KafkaPublisher struct {
	producer      *pkgkafka.Producer
	runTopic      string
	revisionTopic string
}

var _ repository.RunPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, runTopic, revisionTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, runTopic: runTopic, revisionTopic: revisionTopic}
}

type runSummary struct {
	RunID      string                    `json:"run_id"`
	Command    string                    `json:"command"`
	RunDate    string                    `json:"run_date"`
	Status     models.RunStatus          `json:"status"`
	Advanced   int                       `json:"series_advanced"`
	Revisions  int                       `json:"revisions"`
	Composites []models.CompositeOutcome `json:"composites"`
	Failures   []string                  `json:"failures,omitempty"`
}

func (p *KafkaPublisher) PublishRun(ctx context.Context, report *models.RunReport) error {
	run, revisions := buildMessages(report)
	if len(revisions) > 0 {
		if err := p.producer.PublishBatch(ctx, p.revisionTopic, revisions); err != nil {
			return fmt.Errorf("publish revisions: %w", err)
		}
	}
	if err := p.producer.PublishBatch(ctx, p.runTopic, []pkgkafka.Message{run}); err != nil {
		return fmt.Errorf("publish run: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func buildMessages(report *models.RunReport) (pkgkafka.Message, []pkgkafka.Message) {
	run := pkgkafka.Message{
		Key: []byte(report.RunID),
		Value: runSummary{
			RunID:      report.RunID,
			Command:    report.Command,
			RunDate:    report.RunDate,
			Status:     report.Status,
			Advanced:   report.SeriesAdvanced(),
			Revisions:  len(report.Revisions),
			Composites: report.Composites,
			Failures:   report.Failures,
		},
		Headers: map[string]string{"type": "run"},
	}

	revisions := make([]pkgkafka.Message, 0, len(report.Revisions))
	for _, ev := range report.Revisions {
		revisions = append(revisions, pkgkafka.Message{
			Key:     []byte(ev.SeriesID),
			Value:   ev,
			Headers: map[string]string{"type": "revision", "run_id": report.RunID},
		})
	}
	return run, revisions
}

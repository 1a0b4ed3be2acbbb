// Package notify announces finished audits on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"vigilant-go/internal/types"
)

// DefaultSubject is used when NATS_SUBJECT is not set.
const DefaultSubject = "vigilant.audit.completed"

// AuditCompleted is the payload published for every finished report.
type AuditCompleted struct {
	RequestID      string      `json:"request_id"`
	CallTimestamp  string      `json:"call_timestamp"`
	IsWithinPolicy types.Value `json:"is_within_policy"`
	ClauseIDs      []string    `json:"violated_clause_ids"`
	RiskScore      types.Value `json:"risk_escalation_score"`
	FinalStatus    string      `json:"final_status"`
	PublishedAt    string      `json:"published_at"`
}

// Event summarises rep for subscribers. The full report stays in the archive.
func Event(rep *types.AuditReport, now time.Time) AuditCompleted {
	ids := make([]string, 0, len(rep.ComplianceAudit.PolicyViolations))
	for _, v := range rep.ComplianceAudit.PolicyViolations {
		ids = append(ids, v.ClauseID)
	}
	return AuditCompleted{
		RequestID:      rep.RequestID,
		CallTimestamp:  rep.Metadata.Timestamp,
		IsWithinPolicy: rep.ComplianceAudit.IsWithinPolicy,
		ClauseIDs:      ids,
		RiskScore:      rep.ComplianceAudit.RiskScores.RiskEscalationScore,
		FinalStatus:    rep.PerformanceAndOutcomes.FinalStatus.String(),
		PublishedAt:    now.UTC().Format(time.RFC3339),
	}
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Publisher struct {
	conn    conn
	subject string
	now     func() time.Time
	log     *logrus.Entry
}

// Connect dials NATS. The connection keeps retrying in the background, so a
// broker that is down at startup does not stop the service.
func Connect(url, token, subject string, log *logrus.Entry) (*Publisher, error) {
	log = log.WithField("component", "notify")
	opts := []nats.Option{
		nats.Name("vigilant"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, subject, log), nil
}

func newPublisher(c conn, subject string, log *logrus.Entry) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject, now: time.Now, log: log}
}

// Publish sends the AuditCompleted event for rep.
func (p *Publisher) Publish(ctx context.Context, rep *types.AuditReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(Event(rep, p.now()))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.log.WithField("req_id", rep.RequestID).WithField("subject", p.subject).Debug("audit event published")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"consult-platform/internal/audit"
	"consult-platform/internal/calls"

	"github.com/samber/lo"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// AuditSource lists webhook audit events processed in [from, to).
type AuditSource interface {
	List(ctx context.Context, from, to time.Time) ([]audit.Event, error)
}

// RecordSource lists durable records by payment status.
type RecordSource interface {
	ListByPaymentStatus(ctx context.Context, kind calls.Kind, status calls.PaymentStatus, updatedBefore time.Time) ([]calls.Record, error)
}

// DefaultStaleAfter is how long a payment may stay unsettled before it is
// reported.
const DefaultStaleAfter = 30 * time.Minute

type Service struct {
	audits  AuditSource
	records RecordSource
	clock   func() time.Time
}

func NewService(audits AuditSource, records RecordSource) *Service {
	return &Service{audits: audits, records: records, clock: time.Now}
}

// Reconciliation summarizes webhook processing and lists what still needs
// operator attention.
func (s *Service) Reconciliation(ctx context.Context, req ReconciliationRequest) (ReconciliationReport, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ReconciliationReport{}, ErrInvalidRequest
	}
	if req.StaleAfter < 0 {
		return ReconciliationReport{}, ErrInvalidRequest
	}
	if req.StaleAfter == 0 {
		req.StaleAfter = DefaultStaleAfter
	}
	if s.audits == nil || s.records == nil {
		return ReconciliationReport{}, errors.New("reporting: sources not configured")
	}

	events, err := s.audits.List(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return ReconciliationReport{}, err
	}

	out := ReconciliationReport{
		Range:              req.Range,
		TotalEvents:        len(events),
		ByStatus:           map[audit.Status]int{},
		ByEventType:        map[string]EventTypeCounts{},
		UnresolvedFailures: []FailedDelivery{},
		PendingPayments:    []PendingRecord{},
	}
	for _, e := range events {
		out.ByStatus[e.Status]++
		c := out.ByEventType[e.EventType]
		switch {
		case e.Duplicate:
			c.Duplicates++
		case e.Status == audit.StatusSuccess:
			c.Success++
		case e.Status == audit.StatusFailed:
			c.Failed++
		case e.Status == audit.StatusUnhandled:
			c.Unhandled++
		}
		out.ByEventType[e.EventType] = c
	}
	out.UnresolvedFailures = unresolved(events)

	cutoff := s.clock().Add(-req.StaleAfter)
	for _, kind := range []calls.Kind{calls.KindCallSession, calls.KindAppointment} {
		for _, ps := range []calls.PaymentStatus{calls.PaymentStatusPending, calls.PaymentStatusAuthorized} {
			rows, err := s.records.ListByPaymentStatus(ctx, kind, ps, cutoff)
			if err != nil {
				return ReconciliationReport{}, err
			}
			for _, r := range rows {
				out.PendingPayments = append(out.PendingPayments, PendingRecord{
					ID:            r.ID,
					Kind:          kind,
					OwnerID:       r.OwnerID,
					Status:        r.Status,
					PaymentStatus: r.PaymentStatus,
					UpdatedAt:     r.UpdatedAt,
				})
			}
		}
	}
	sort.Slice(out.PendingPayments, func(i, j int) bool {
		return out.PendingPayments[i].UpdatedAt.Before(out.PendingPayments[j].UpdatedAt)
	})
	return out, nil
}

// unresolved returns event ids that failed and never succeeded afterwards.
func unresolved(events []audit.Event) []FailedDelivery {
	out := []FailedDelivery{}
	byID := lo.GroupBy(events, func(e audit.Event) string { return e.Provider + "|" + e.EventID })
	for _, attempts := range byID {
		sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].ProcessedAt.Before(attempts[j].ProcessedAt) })
		last := attempts[len(attempts)-1]
		if last.Status != audit.StatusFailed {
			continue
		}
		failed := lo.Filter(attempts, func(e audit.Event, _ int) bool { return e.Status == audit.StatusFailed })
		out = append(out, FailedDelivery{
			EventID:     last.EventID,
			EventType:   last.EventType,
			EntityID:    last.EntityID,
			Error:       last.Error,
			Attempts:    len(failed),
			ProcessedAt: last.ProcessedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(out[j].ProcessedAt) })
	return out
}

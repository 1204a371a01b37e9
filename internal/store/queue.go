package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"cross-checker/internal/models"
	"cross-checker/internal/notifybus"
)

// QueueCrossCheckReport assigns a fresh uuid to req, publishes
// {uuid, req} on the cross_check_reports channel via pg_notify, and
// returns the uuid. The request itself is not persisted (spec.md
// §4.B, §4.G) — callers needing durability must journal it themselves.
func (s *Store) QueueCrossCheckReport(ctx context.Context, req models.DivergenceInvestigationRequest) (string, error) {
	id := uuid.NewString()
	envelope := models.QueuedReportRequest{UUID: id, Request: req}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("store: marshal queued report request: %w", err)
	}

	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifybus.Channel, string(payload)); err != nil {
		return "", fmt.Errorf("store: notify %s: %w", notifybus.Channel, err)
	}
	return id, nil
}

// RecvCrossCheckReportRequest blocks until the next notification on
// cross_check_reports, validates its payload, and returns it. Malformed
// payloads are logged and dropped without being returned to the
// caller (spec.md §6 "Notification channel"); the call keeps waiting
// for the next one. Exactly one caller receives each notification:
// every caller reads off the same shared bus, so concurrent workers
// compete for reports rather than each seeing every one.
func (s *Store) RecvCrossCheckReportRequest(ctx context.Context) (models.QueuedReportRequest, error) {
	for {
		r, ok := s.bus.Recv(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return models.QueuedReportRequest{}, err
			}
			return models.QueuedReportRequest{}, fmt.Errorf("store: notification bus closed")
		}

		var req models.QueuedReportRequest
		if err := json.Unmarshal([]byte(r.Payload), &req); err != nil {
			log.Printf("[store] dropping malformed cross_check_reports payload: %v", err)
			continue
		}
		return req, nil
	}
}

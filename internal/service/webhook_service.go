package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"facetag/internal/models"
	"facetag/internal/queue"
	"facetag/internal/security"
)

type ReceiveResult struct {
	RecordID  string
	Duplicate bool
	Enqueued  bool
}

// WebhookService stores verified detection deliveries and hands fan-out to
// the worker. Signature checks happen before Receive is called.
type WebhookService struct {
	detections DetectionStore
	queue      TaskQueue
	dedupeTTL  time.Duration
	log        zerolog.Logger
}

func NewWebhookService(detections DetectionStore, tasks TaskQueue, dedupeTTL time.Duration, log zerolog.Logger) *WebhookService {
	return &WebhookService{
		detections: detections,
		queue:      tasks,
		dedupeTTL:  dedupeTTL,
		log:        log,
	}
}

func (s *WebhookService) Receive(ctx context.Context, body []byte) (ReceiveResult, error) {
	var result models.FaceDetectionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ReceiveResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(result.FileName) == "" {
		return ReceiveResult{}, fmt.Errorf("%w: fileName is empty", ErrInvalidPayload)
	}

	bodyHash := security.ComputeBodyHash(body)
	record, stored, err := s.detections.CreateDelivery(ctx, bodyHash, s.dedupeTTL, result.FileName, string(body))
	if err != nil {
		return ReceiveResult{}, err
	}
	if !stored {
		s.log.Info().
			Str("record_id", record.ID).
			Str("file_name", result.FileName).
			Str("body_hash", bodyHash).
			Msg("duplicate detection delivery ignored")
		return ReceiveResult{RecordID: record.ID, Duplicate: true}, nil
	}

	out := ReceiveResult{RecordID: record.ID}
	logger := s.log.With().Str("record_id", record.ID).Str("file_name", result.FileName).Logger()

	if !result.HasRegisteredFaces() {
		if err := s.detections.ClearPending(ctx, record.ID); err != nil {
			logger.Warn().Err(err).Msg("clear pending failed")
		}
		logger.Info().Msg("detection stored without registered faces")
		return out, nil
	}

	if _, err := s.queue.Enqueue(ctx, queue.Task{Type: queue.TaskFanout, RecordID: record.ID}); err != nil {
		logger.Warn().Err(err).Msg("enqueue fanout failed, record left for reconcile")
		return out, nil
	}
	out.Enqueued = true

	logger.Info().
		Int("registered_faces", len(result.RegisteredFaces)).
		Msg("detection stored, fanout enqueued")
	return out, nil
}

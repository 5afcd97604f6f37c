package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"facetag/internal/ids"
	"facetag/internal/models"
	"facetag/internal/queue"
	"facetag/internal/repository"
)

// FanoutService turns a stored detection record into tags and notifications
// on the matching post. Apply is safe to repeat for the same record.
type FanoutService struct {
	posts      PostStore
	detections DetectionStore
	queue      TaskQueue
	window     time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewFanoutService(posts PostStore, detections DetectionStore, tasks TaskQueue, window time.Duration, log zerolog.Logger) *FanoutService {
	return &FanoutService{
		posts:      posts,
		detections: detections,
		queue:      tasks,
		window:     window,
		log:        log,
		now:        time.Now,
	}
}

// Apply returns an error only for failures worth retrying.
func (s *FanoutService) Apply(ctx context.Context, recordID string) error {
	logger := s.log.With().Str("record_id", recordID).Logger()

	record, err := s.detections.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrDetectionNotFound) {
			logger.Warn().Msg("fanout for missing detection record skipped")
			return nil
		}
		return err
	}

	var result models.FaceDetectionResult
	if err := json.Unmarshal([]byte(record.Data), &result); err != nil {
		logger.Error().Err(err).Msg("stored detection payload is not decodable")
		return s.clearPending(ctx, recordID)
	}
	if !result.HasRegisteredFaces() {
		return s.clearPending(ctx, recordID)
	}

	post, err := s.posts.FindByImageNameIn(ctx, result.FileName)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			logger.Info().Str("file_name", result.FileName).Msg("no post matches detection yet, left pending")
			return nil
		}
		return err
	}

	tags, notifications, skipped := buildFanout(post.ID, result.RegisteredFaces, s.now().UTC())
	for _, userID := range skipped {
		logger.Warn().Str("user_id", userID).Msg("registered face with non-numeric user id skipped")
	}

	applied, err := s.posts.ApplyFanout(ctx, recordID, post.ID, tags, notifications)
	if err != nil {
		return fmt.Errorf("apply fanout for %s: %w", recordID, err)
	}
	if applied {
		logger.Info().
			Int64("post_id", post.ID).
			Int("tags", len(tags)).
			Msg("fanout applied")
	} else {
		logger.Debug().Int64("post_id", post.ID).Msg("fanout already applied")
	}

	return s.clearPending(ctx, recordID)
}

// Reconcile enqueues a fanout for every pending record still inside the
// reconcile window and drops the rest. It returns how many were enqueued.
func (s *FanoutService) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.detections.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, recordID := range pending {
		created, err := ids.Time(recordID)
		if err != nil {
			s.log.Warn().Err(err).Str("record_id", recordID).Msg("pending entry has invalid id, dropped")
			if err := s.clearPending(ctx, recordID); err != nil {
				return enqueued, err
			}
			continue
		}
		if s.window > 0 && s.now().Sub(created) > s.window {
			s.log.Warn().
				Str("record_id", recordID).
				Time("created_at", created).
				Msg("detection record never matched a post, dropped from reconcile")
			if err := s.clearPending(ctx, recordID); err != nil {
				return enqueued, err
			}
			continue
		}

		if _, err := s.queue.Enqueue(ctx, queue.Task{Type: queue.TaskFanout, RecordID: recordID}); err != nil {
			return enqueued, err
		}
		enqueued++
	}

	s.log.Info().Int("pending", len(pending)).Int("enqueued", enqueued).Msg("reconcile finished")
	return enqueued, nil
}

func (s *FanoutService) clearPending(ctx context.Context, recordID string) error {
	if err := s.detections.ClearPending(ctx, recordID); err != nil {
		return fmt.Errorf("clear pending %s: %w", recordID, err)
	}
	return nil
}

// buildFanout creates one tag and one notification per face whose user id is
// an integer. The raw ids of the other faces are returned as skipped.
func buildFanout(postID int64, faces []models.RegisteredFace, at time.Time) ([]models.Tag, []models.Notification, []string) {
	tags := make([]models.Tag, 0, len(faces))
	notifications := make([]models.Notification, 0, len(faces))
	var skipped []string

	for _, face := range faces {
		userID, ok := face.NumericUserID()
		if !ok {
			skipped = append(skipped, face.UserID)
			continue
		}
		tags = append(tags, models.Tag{UserID: userID, PostID: postID, TaggedAt: at})
		notifications = append(notifications, models.Notification{
			UserID:    userID,
			PostID:    postID,
			Message:   models.TagMessage,
			CreatedAt: at,
		})
	}
	return tags, notifications, skipped
}

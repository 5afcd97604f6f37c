package service

import (
	"context"
	"errors"
	"time"

	"facetag/internal/detector"
	"facetag/internal/models"
	"facetag/internal/queue"
)

var (
	ErrNoFile              = errors.New("no file uploaded")
	ErrNotImage            = errors.New("only image files are supported")
	ErrFileTooLarge        = errors.New("file too large")
	ErrInvalidPayload      = errors.New("invalid detection payload")
	ErrDetectionAmbiguous  = errors.New("more than one detection record matches the post")
	ErrUpstreamRejected    = detector.ErrRejected
	ErrUpstreamUnavailable = detector.ErrUnavailable
)

type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id int64) (models.Post, error)
	FindByImageNameIn(ctx context.Context, fileName string) (models.Post, error)
	ApplyFanout(ctx context.Context, recordID string, postID int64, tags []models.Tag, notifications []models.Notification) (bool, error)
}

type DetectionStore interface {
	Create(ctx context.Context, fileName string, data string) (models.DetectionRecord, error)
	GetByID(ctx context.Context, id string) (models.DetectionRecord, error)
	FindByFileNameContains(ctx context.Context, substr string) ([]models.DetectionRecord, error)
	CreateDelivery(ctx context.Context, bodyHash string, ttl time.Duration, fileName string, data string) (models.DetectionRecord, bool, error)
	ClearPending(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]string, error)
}

type Detector interface {
	Submit(ctx context.Context, upload detector.Upload) error
}

type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

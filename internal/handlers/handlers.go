package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"facetag/internal/config"
	"facetag/internal/detector"
	"facetag/internal/middleware"
	"facetag/internal/queue"
	"facetag/internal/repository"
	"facetag/internal/service"
	"facetag/internal/storage"
)

type PostService interface {
	Create(ctx context.Context, input service.CreatePostInput) (service.CreatePostResult, error)
	Detail(ctx context.Context, postID int64) (service.PostDetail, error)
}

type WebhookService interface {
	Receive(ctx context.Context, body []byte) (service.ReceiveResult, error)
}

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	posts    PostService
	webhooks WebhookService
	checks   []healthCheck
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, store *storage.ObjectStore, cfg *config.AppConfig) (HandlerSet, error) {
	postRepo := repository.NewPostRepository(db)
	detectionRepo, err := repository.NewDetectionRepository(cache, cfg.Detection)
	if err != nil {
		return HandlerSet{}, err
	}
	producer := queue.NewProducer(cache, cfg.Queue.Stream)

	posts := service.NewPostService(postRepo, detectionRepo, detector.NewClient(cfg.Detection), store, cfg, log)
	webhooks := service.NewWebhookService(detectionRepo, producer, cfg.Webhook.DedupeTTL, log)

	return HandlerSet{
		log:      log,
		cfg:      cfg,
		posts:    posts,
		webhooks: webhooks,
		checks: []healthCheck{
			{name: "database", ping: db.Ping},
			{name: "cache", ping: func(ctx context.Context) error { return cache.Ping(ctx).Err() }},
			{name: "storage", ping: store.Ping},
		},
	}, nil
}

func (h HandlerSet) Register(router gin.IRouter) {
	api := router.Group("/api")
	api.GET("/healthz", h.Health)

	post := api.Group("/post")
	post.POST("/create-post", h.CreatePost)
	post.GET("/Detail", h.PostDetail)

	router.POST("/ReceiveData",
		middleware.WebhookSignature(h.cfg.Webhook.Secret, h.cfg.Webhook.MaxBodyBytes),
		h.ReceiveData,
	)
}

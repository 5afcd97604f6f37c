package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	post_id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	image_name TEXT NOT NULL,
	detection_record_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_image_name ON posts(image_name);

CREATE TABLE IF NOT EXISTS tags (
	tag_id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	post_id BIGINT NOT NULL REFERENCES posts(post_id) ON DELETE CASCADE,
	tagged_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tags_post_id ON tags(post_id);

CREATE TABLE IF NOT EXISTS notifications (
	notification_id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	post_id BIGINT NOT NULL REFERENCES posts(post_id) ON DELETE CASCADE,
	message TEXT NOT NULL,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id);

CREATE TABLE IF NOT EXISTS fanouts (
	detection_record_id TEXT PRIMARY KEY,
	post_id BIGINT NOT NULL REFERENCES posts(post_id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL
);`

// EnsureSchema creates the relational tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

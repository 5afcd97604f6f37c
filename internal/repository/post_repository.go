package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"facetag/internal/models"
)

var ErrPostNotFound = errors.New("post not found")

type PostRepository struct {
	pool *pgxpool.Pool
}

func NewPostRepository(pool *pgxpool.Pool) *PostRepository {
	return &PostRepository{pool: pool}
}

func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	const query = `
		INSERT INTO posts (user_id, content, image_name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING post_id
	`

	row := r.pool.QueryRow(ctx, query,
		post.UserID,
		post.Content,
		post.ImageName,
		post.CreatedAt,
	)
	if err := row.Scan(&post.ID); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *PostRepository) GetByID(ctx context.Context, id int64) (models.Post, error) {
	const query = `
		SELECT post_id, user_id, content, image_name, detection_record_id, created_at
		FROM posts WHERE post_id = $1
	`

	post, err := scanPost(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Post{}, ErrPostNotFound
		}
		return models.Post{}, fmt.Errorf("select post: %w", err)
	}
	return post, nil
}

// FindByImageNameIn returns the newest post whose image name occurs inside
// fileName. strpos keeps '_' and '%' in image names literal.
func (r *PostRepository) FindByImageNameIn(ctx context.Context, fileName string) (models.Post, error) {
	const query = `
		SELECT post_id, user_id, content, image_name, detection_record_id, created_at
		FROM posts
		WHERE image_name <> '' AND strpos($1, image_name) > 0
		ORDER BY created_at DESC, post_id DESC
		LIMIT 1
	`

	post, err := scanPost(r.pool.QueryRow(ctx, query, fileName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Post{}, ErrPostNotFound
		}
		return models.Post{}, fmt.Errorf("select post by image name: %w", err)
	}
	return post, nil
}

// ApplyFanout writes tags and notifications for one detection record in a
// single transaction. It reports false when the record was already fanned
// out, in which case nothing is written.
func (r *PostRepository) ApplyFanout(ctx context.Context, recordID string, postID int64, tags []models.Tag, notifications []models.Notification) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin fanout: %w", err)
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		INSERT INTO fanouts (detection_record_id, post_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (detection_record_id) DO NOTHING
	`, recordID, postID)
	if err != nil {
		return false, fmt.Errorf("insert fanout: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return false, nil
	}

	if len(tags) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"tags"},
			[]string{"user_id", "post_id", "tagged_at"},
			pgx.CopyFromSlice(len(tags), func(i int) ([]any, error) {
				return []any{tags[i].UserID, tags[i].PostID, tags[i].TaggedAt}, nil
			}),
		)
		if err != nil {
			return false, fmt.Errorf("copy tags: %w", err)
		}
	}

	if len(notifications) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"notifications"},
			[]string{"user_id", "post_id", "message", "created_at"},
			pgx.CopyFromSlice(len(notifications), func(i int) ([]any, error) {
				n := notifications[i]
				return []any{n.UserID, n.PostID, n.Message, n.CreatedAt}, nil
			}),
		)
		if err != nil {
			return false, fmt.Errorf("copy notifications: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE posts
		SET detection_record_id = COALESCE(detection_record_id, $2)
		WHERE post_id = $1
	`, postID, recordID); err != nil {
		return false, fmt.Errorf("link detection record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit fanout: %w", err)
	}
	return true, nil
}

func scanPost(row pgx.Row) (models.Post, error) {
	var post models.Post
	err := row.Scan(
		&post.ID,
		&post.UserID,
		&post.Content,
		&post.ImageName,
		&post.DetectionRecordID,
		&post.CreatedAt,
	)
	return post, err
}

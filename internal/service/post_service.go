package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"facetag/internal/config"
	"facetag/internal/detector"
	"facetag/internal/media/sniffer"
	"facetag/internal/models"
	"facetag/internal/repository"
)

type CreatePostInput struct {
	File        multipart.File
	Header      *multipart.FileHeader
	Content     string
	UserID      int64
	SystemToken string
}

type CreatePostResult struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type PostDetail struct {
	ImageWidth        *int                    `json:"imageWidth"`
	ImageHeight       *int                    `json:"imageHeight"`
	RegisteredFaces   []models.RegisteredFace `json:"registeredFaces"`
	UnregisteredFaces []json.RawMessage       `json:"unregisteredFaces"`
	PictureURL        string                  `json:"pictureUrl"`
}

type PostService struct {
	posts      PostStore
	detections DetectionStore
	detector   Detector
	signer     URLSigner
	upload     config.UploadConfig
	presignTTL time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewPostService(posts PostStore, detections DetectionStore, det Detector, signer URLSigner, cfg *config.AppConfig, log zerolog.Logger) *PostService {
	return &PostService{
		posts:      posts,
		detections: detections,
		detector:   det,
		signer:     signer,
		upload:     cfg.Upload,
		presignTTL: cfg.Storage.PresignTTL,
		log:        log,
		now:        time.Now,
	}
}

// Create forwards the upload to the detection service and, only when that
// succeeds, records the post.
func (s *PostService) Create(ctx context.Context, input CreatePostInput) (CreatePostResult, error) {
	if input.File == nil || input.Header == nil || input.Header.Size == 0 {
		return CreatePostResult{}, ErrNoFile
	}

	contentType := sniffer.MimeTypeFromHTTP(http.Header(input.Header.Header))
	if !sniffer.IsImage(contentType) {
		return CreatePostResult{}, ErrNotImage
	}
	if s.upload.MaxBytes > 0 && input.Header.Size > s.upload.MaxBytes {
		return CreatePostResult{}, ErrFileTooLarge
	}

	tmpPath, err := s.spool(input.File, contentType)
	if tmpPath != "" {
		defer s.removeTemp(tmpPath)
	}
	if err != nil {
		return CreatePostResult{}, err
	}

	err = s.detector.Submit(ctx, detector.Upload{
		Path:        tmpPath,
		FileName:    input.Header.Filename,
		ContentType: contentType,
		Token:       input.SystemToken,
	})
	if err != nil {
		return CreatePostResult{}, err
	}

	post := models.Post{
		UserID:    input.UserID,
		Content:   input.Content,
		ImageName: ImageName(input.Header.Filename),
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.posts.Create(ctx, &post); err != nil {
		return CreatePostResult{}, err
	}

	s.log.Info().
		Int64("post_id", post.ID).
		Int64("user_id", post.UserID).
		Str("image_name", post.ImageName).
		Msg("post created")

	return CreatePostResult{Content: post.Content, CreatedAt: post.CreatedAt}, nil
}

// spool copies the upload into a temp file and checks it. The returned path
// is set whenever a file was created, even on error.
func (s *PostService) spool(src io.Reader, contentType string) (string, error) {
	tmp, err := os.CreateTemp(s.upload.TempDir, "facetag-upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	reader := src
	if s.upload.MaxBytes > 0 {
		reader = io.LimitReader(src, s.upload.MaxBytes+1)
	}
	written, err := io.Copy(tmp, reader)
	if err != nil {
		return tmp.Name(), fmt.Errorf("write temp file: %w", err)
	}
	if written == 0 {
		return tmp.Name(), ErrNoFile
	}
	if s.upload.MaxBytes > 0 && written > s.upload.MaxBytes {
		return tmp.Name(), ErrFileTooLarge
	}

	head := make([]byte, sniffer.HeadSize)
	n, err := tmp.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return tmp.Name(), fmt.Errorf("read head: %w", err)
	}
	if err := sniffer.CheckDeclared(contentType, head[:n]); err != nil {
		return tmp.Name(), err
	}
	return tmp.Name(), nil
}

func (s *PostService) removeTemp(name string) {
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", name).Msg("remove temp upload failed")
	}
}

// Detail resolves the detection record for a post and presigns its image.
func (s *PostService) Detail(ctx context.Context, postID int64) (PostDetail, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return PostDetail{}, err
	}

	record, err := s.resolveRecord(ctx, post)
	if err != nil {
		return PostDetail{}, err
	}

	var result models.FaceDetectionResult
	if err := json.Unmarshal([]byte(record.Data), &result); err != nil {
		return PostDetail{}, fmt.Errorf("decode detection record %s: %w", record.ID, err)
	}

	detail := PostDetail{
		ImageWidth:        result.Width,
		ImageHeight:       result.Height,
		RegisteredFaces:   result.RegisteredFaces,
		UnregisteredFaces: result.UnregisteredFaces,
	}
	if detail.RegisteredFaces == nil {
		detail.RegisteredFaces = []models.RegisteredFace{}
	}
	if detail.UnregisteredFaces == nil {
		detail.UnregisteredFaces = []json.RawMessage{}
	}

	if result.Key != "" {
		url, err := s.signer.PresignGet(ctx, result.Key, s.presignTTL)
		if err != nil {
			return PostDetail{}, fmt.Errorf("presign %s: %w", result.Key, err)
		}
		detail.PictureURL = url
	}
	return detail, nil
}

func (s *PostService) resolveRecord(ctx context.Context, post models.Post) (models.DetectionRecord, error) {
	if post.DetectionRecordID != nil {
		record, err := s.detections.GetByID(ctx, *post.DetectionRecordID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, repository.ErrDetectionNotFound) {
			return models.DetectionRecord{}, err
		}
		s.log.Warn().
			Int64("post_id", post.ID).
			Str("record_id", *post.DetectionRecordID).
			Msg("linked detection record missing, falling back to file name scan")
	}

	records, err := s.detections.FindByFileNameContains(ctx, post.ImageName)
	if err != nil {
		return models.DetectionRecord{}, err
	}
	switch len(records) {
	case 0:
		return models.DetectionRecord{}, repository.ErrDetectionNotFound
	case 1:
		return records[0], nil
	default:
		return models.DetectionRecord{}, fmt.Errorf("%w: post %d has %d candidates", ErrDetectionAmbiguous, post.ID, len(records))
	}
}

// ImageName is the upload's base name without its extension. Windows
// separators are treated as path separators.
func ImageName(fileName string) string {
	name := strings.ReplaceAll(fileName, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"facetag/internal/config"
	"facetag/internal/detector"
	"facetag/internal/media/sniffer"
	"facetag/internal/models"
	"facetag/internal/repository"
)

type postFixture struct {
	svc        *PostService
	posts      *fakePosts
	detector   *fakeDetector
	signer     *fakeSigner
	detections *repository.DetectionRepository
	tempDir    string
}

func newPostFixture(t *testing.T) *postFixture {
	t.Helper()
	detections, _ := newDetections(t)
	f := &postFixture{
		posts:      newFakePosts(),
		detector:   &fakeDetector{},
		signer:     &fakeSigner{},
		detections: detections,
		tempDir:    t.TempDir(),
	}
	cfg := &config.AppConfig{
		Upload:  config.UploadConfig{TempDir: f.tempDir, MaxBytes: 1024},
		Storage: config.StorageConfig{PresignTTL: 30 * time.Minute},
	}
	f.svc = NewPostService(f.posts, f.detections, f.detector, f.signer, cfg, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2024, 3, 1, 8, 30, 0, 123456789, time.UTC) }
	return f
}

func (f *postFixture) create(t *testing.T, name, contentType string, data []byte) (CreatePostResult, error) {
	t.Helper()
	header := newFileHeader(t, name, contentType, data)
	file, err := header.Open()
	if err != nil {
		t.Fatalf("open upload: %v", err)
	}
	defer file.Close()

	return f.svc.Create(context.Background(), CreatePostInput{
		File:        file,
		Header:      header,
		Content:     "hello",
		UserID:      42,
		SystemToken: "sys-token",
	})
}

func (f *postFixture) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir has %d leftover files", len(entries))
	}
}

func TestCreatePostForwardsAndPersists(t *testing.T) {
	f := newPostFixture(t)

	result, err := f.create(t, "cat.png", "image/png", pngBytes)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(f.detector.calls) != 1 {
		t.Fatalf("detector calls = %d, want 1", len(f.detector.calls))
	}
	call := f.detector.calls[0]
	if call.FileName != "cat.png" || call.ContentType != "image/png" || call.Token != "sys-token" {
		t.Errorf("unexpected upload: %+v", call)
	}
	if string(f.detector.contents[0]) != string(pngBytes) {
		t.Error("detector did not receive the uploaded bytes")
	}

	if len(f.posts.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(f.posts.posts))
	}
	post := f.posts.posts[0]
	if post.ImageName != "cat" || post.UserID != 42 || post.Content != "hello" {
		t.Errorf("unexpected post: %+v", post)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q", result.Content)
	}
	if !result.CreatedAt.Equal(time.Date(2024, 3, 1, 8, 30, 0, 123456000, time.UTC)) {
		t.Errorf("createdAt = %s", result.CreatedAt)
	}
	f.assertTempDirEmpty(t)
}

func TestCreatePostUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"rejected", fmt.Errorf("%w: status 401", detector.ErrRejected), ErrUpstreamRejected},
		{"unavailable", detector.ErrUnavailable, ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostFixture(t)
			f.detector.err = tt.err

			_, err := f.create(t, "cat.png", "image/png", pngBytes)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(f.posts.posts) != 0 {
				t.Errorf("post persisted after upstream failure")
			}
			f.assertTempDirEmpty(t)
		})
	}
}

func TestCreatePostRejectsInput(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		data        []byte
		wantErr     error
	}{
		{"not an image", "notes.txt", "text/plain", []byte("hello"), ErrNotImage},
		{"declared png but jpeg", "cat.png", "image/png", jpegBytes, sniffer.ErrTypeMismatch},
		{"too large", "big.png", "image/png", append(append([]byte{}, pngBytes...), make([]byte, 2048)...), ErrFileTooLarge},
		{"empty", "cat.png", "image/png", nil, ErrNoFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostFixture(t)

			_, err := f.create(t, tt.fileName, tt.contentType, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(f.detector.calls) != 0 {
				t.Error("detector called for rejected upload")
			}
			f.assertTempDirEmpty(t)
		})
	}
}

func TestCreatePostWithoutFile(t *testing.T) {
	f := newPostFixture(t)
	_, err := f.svc.Create(context.Background(), CreatePostInput{Content: "x"})
	if !errors.Is(err, ErrNoFile) {
		t.Fatalf("err = %v, want ErrNoFile", err)
	}
}

func TestImageName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cat.png", "cat"},
		{"holiday.photo.jpeg", "holiday.photo"},
		{`C:\photos\cat.png`, "cat"},
		{"dir/cat", "cat"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ImageName(tt.in); got != tt.want {
			t.Errorf("ImageName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

const catPayload = `{"fileName":"uploads/cat.png","width":640,"height":480,"key":"faces/cat.png",` +
	`"registeredFaces":[{"userId":"5","confidence":0.9}],"unregisteredFaces":[{"box":[1,2,3,4]}]}`

func TestDetailScansByImageName(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()

	if err := f.posts.Create(ctx, &models.Post{UserID: 1, ImageName: "cat"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.detections.Create(ctx, "uploads/cat.png", catPayload); err != nil {
		t.Fatal(err)
	}

	detail, err := f.svc.Detail(ctx, 1)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.ImageWidth == nil || *detail.ImageWidth != 640 || *detail.ImageHeight != 480 {
		t.Errorf("unexpected dimensions: %+v", detail)
	}
	if len(detail.RegisteredFaces) != 1 || detail.RegisteredFaces[0].UserID != "5" {
		t.Errorf("registered faces = %+v", detail.RegisteredFaces)
	}
	if len(detail.UnregisteredFaces) != 1 {
		t.Errorf("unregistered faces = %d", len(detail.UnregisteredFaces))
	}
	if detail.PictureURL == "" || f.signer.keys[0] != "faces/cat.png" || f.signer.ttl != 30*time.Minute {
		t.Errorf("presign: url=%q keys=%v ttl=%s", detail.PictureURL, f.signer.keys, f.signer.ttl)
	}
}

func TestDetailPrefersLinkedRecord(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()

	linked, err := f.detections.Create(ctx, "uploads/cat.png", catPayload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.detections.Create(ctx, "uploads/cat.png", `{"fileName":"uploads/cat.png","key":""}`); err != nil {
		t.Fatal(err)
	}
	id := linked.ID
	if err := f.posts.Create(ctx, &models.Post{ImageName: "cat", DetectionRecordID: &id}); err != nil {
		t.Fatal(err)
	}

	detail, err := f.svc.Detail(ctx, 1)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if len(detail.RegisteredFaces) != 1 {
		t.Errorf("linked record not used: %+v", detail)
	}
}

func TestDetailResolutionErrors(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		wantErr error
	}{
		{"no record", nil, repository.ErrDetectionNotFound},
		{"two records", []string{"uploads/cat.png", "backup/cat.png"}, ErrDetectionAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostFixture(t)
			ctx := context.Background()
			if err := f.posts.Create(ctx, &models.Post{ImageName: "cat"}); err != nil {
				t.Fatal(err)
			}
			for _, name := range tt.records {
				if _, err := f.detections.Create(ctx, name, `{"fileName":"`+name+`"}`); err != nil {
					t.Fatal(err)
				}
			}

			_, err := f.svc.Detail(ctx, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetailUnknownPost(t *testing.T) {
	f := newPostFixture(t)
	if _, err := f.svc.Detail(context.Background(), 99); !errors.Is(err, repository.ErrPostNotFound) {
		t.Fatalf("err = %v, want ErrPostNotFound", err)
	}
}

func TestDetailWithoutKeyOrFaces(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	if err := f.posts.Create(ctx, &models.Post{ImageName: "dog"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.detections.Create(ctx, "dog.jpg", `{"fileName":"dog.jpg"}`); err != nil {
		t.Fatal(err)
	}

	detail, err := f.svc.Detail(ctx, 1)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.PictureURL != "" || len(f.signer.keys) != 0 {
		t.Errorf("presigned without key: %q", detail.PictureURL)
	}
	if detail.RegisteredFaces == nil || detail.UnregisteredFaces == nil {
		t.Error("face lists should be empty, not nil")
	}
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"facetag/internal/config"
	"facetag/internal/detector"
	"facetag/internal/models"
	"facetag/internal/queue"
	"facetag/internal/repository"
)

type fakePosts struct {
	mu      sync.Mutex
	posts   []models.Post
	fanouts map[string]int64
	tags    []models.Tag
	notes   []models.Notification
	err     error
}

func newFakePosts() *fakePosts {
	return &fakePosts{fanouts: map[string]int64{}}
}

func (f *fakePosts) Create(_ context.Context, post *models.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	post.ID = int64(len(f.posts) + 1)
	f.posts = append(f.posts, *post)
	return nil
}

func (f *fakePosts) GetByID(_ context.Context, id int64) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Post{}, repository.ErrPostNotFound
}

func (f *fakePosts) FindByImageNameIn(_ context.Context, fileName string) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.posts) - 1; i >= 0; i-- {
		p := f.posts[i]
		if p.ImageName != "" && bytes.Contains([]byte(fileName), []byte(p.ImageName)) {
			return p, nil
		}
	}
	return models.Post{}, repository.ErrPostNotFound
}

func (f *fakePosts) ApplyFanout(_ context.Context, recordID string, postID int64, tags []models.Tag, notifications []models.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, done := f.fanouts[recordID]; done {
		return false, nil
	}
	f.fanouts[recordID] = postID
	f.tags = append(f.tags, tags...)
	f.notes = append(f.notes, notifications...)
	for i := range f.posts {
		if f.posts[i].ID == postID && f.posts[i].DetectionRecordID == nil {
			id := recordID
			f.posts[i].DetectionRecordID = &id
		}
	}
	return true, nil
}

type fakeDetector struct {
	err      error
	calls    []detector.Upload
	contents [][]byte
}

func (f *fakeDetector) Submit(_ context.Context, upload detector.Upload) error {
	data, err := os.ReadFile(upload.Path)
	if err != nil {
		return fmt.Errorf("fake detector: %w", err)
	}
	f.calls = append(f.calls, upload)
	f.contents = append(f.contents, data)
	return f.err
}

type fakeSigner struct {
	keys []string
	ttl  time.Duration
}

func (f *fakeSigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.keys = append(f.keys, key)
	f.ttl = ttl
	return "https://objects.local/fualumni/" + key + "?X-Amz-Expires=1800", nil
}

type fakeQueue struct {
	tasks []queue.Task
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, task queue.Task) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, task)
	return fmt.Sprintf("%d-0", len(f.tasks)), nil
}

func newDetections(t *testing.T) (*repository.DetectionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo, err := repository.NewDetectionRepository(client, config.DetectionConfig{
		Table:      "client-storeData",
		TimeZone:   "UTC",
		DateLayout: "2006-01-02 15:04:05",
	})
	if err != nil {
		t.Fatalf("NewDetectionRepository: %v", err)
	}
	return repo, mr
}

func newFileHeader(t *testing.T, name, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

var (
	pngBytes  = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 64)...)
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{0}, 64)...)
)

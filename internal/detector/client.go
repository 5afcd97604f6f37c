package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"facetag/internal/config"
)

var (
	ErrRejected    = errors.New("detection service rejected the request")
	ErrUnavailable = errors.New("detection service unavailable")
)

// Upload describes one image handed to the detection service.
type Upload struct {
	Path        string
	FileName    string
	ContentType string
	Token       string
}

// Client submits images to the external face detection service. Calls are
// single attempt; results arrive later through the webhook.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(cfg config.DetectionConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Submit(ctx context.Context, upload Upload) error {
	body, contentType, err := buildForm(upload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+upload.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func buildForm(upload Upload) (*bytes.Buffer, string, error) {
	data, err := os.ReadFile(upload.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(upload.FileName)))
	header.Set("Content-Type", upload.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

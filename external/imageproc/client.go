package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// Client sends images to an external analysis service. The service replies with
// JSON carrying a caption, faces (a count or a list) and labels.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{client: resty.New().SetBaseURL(strings.TrimSuffix(baseURL, "/")).SetTimeout(timeout)}
}

func (c *Client) Analyze(ctx context.Context, data []byte, mimeType string) (monitor.ImageAnalysis, error) {
	if len(data) == 0 {
		return monitor.ImageAnalysis{}, fmt.Errorf("empty image")
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartField("image", "image"+extension(mimeType), mimeType, bytes.NewReader(data)).
		Post("/analyze")
	if err != nil {
		return monitor.ImageAnalysis{}, fmt.Errorf("image service request: %w", err)
	}
	if resp.IsError() {
		return monitor.ImageAnalysis{}, fmt.Errorf("image service returned status %d", resp.StatusCode())
	}
	return parseAnalysis(resp.Body())
}

func parseAnalysis(body []byte) (monitor.ImageAnalysis, error) {
	if !gjson.ValidBytes(body) {
		return monitor.ImageAnalysis{}, fmt.Errorf("image service returned invalid json")
	}
	root := gjson.ParseBytes(body)
	if r := root.Get("result"); r.IsObject() {
		root = r
	}
	var a monitor.ImageAnalysis
	a.Caption = firstString(root, "caption", "description", "text")
	faces := root.Get("faces")
	switch {
	case faces.IsArray():
		a.Faces = len(faces.Array())
	case faces.Exists():
		a.Faces = int(faces.Int())
	default:
		a.Faces = int(root.Get("face_count").Int())
	}
	for _, l := range root.Get("labels").Array() {
		name := l.String()
		if l.IsObject() {
			name = firstString(l, "name", "label")
		}
		if name != "" {
			a.Labels = append(a.Labels, name)
		}
	}
	return a, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func extension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}

// ABOUTME: Canonical string rendering of Content values, with optional image materialization.
// ABOUTME: URL always wins over inline payload; absence of both renders a "None" placeholder.

package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Renderer turns Content values into their canonical string form. When
// UploadsRoot is set, image payloads are materialized to files under it and
// the rendered form references the file path; materialization failures fall
// back to rendering the raw reference rather than failing.
type Renderer struct {
	UploadsRoot string

	logger *slog.Logger
	client *http.Client
}

// NewRenderer creates a renderer. Pass nil logger for default. An empty
// uploadsRoot disables image materialization.
func NewRenderer(uploadsRoot string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		UploadsRoot: uploadsRoot,
		logger:      logger.With("component", "media"),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Render produces the canonical string for c, generating a fresh base name
// for any materialized image.
func (r *Renderer) Render(c Content) string {
	return r.RenderNamed(c, "")
}

// RenderNamed is Render with a caller-provided base name for materialized
// images. The name is ignored for non-image content.
func (r *Renderer) RenderNamed(c Content, baseName string) string {
	switch t := c.(type) {
	case Text:
		return t.Text
	case Image:
		return r.renderImage(t.URL, t.File, baseName)
	case ImageURL:
		return r.renderImage(t.URL, t.File, baseName)
	case Video:
		return fmt.Sprintf("<video %s>", ref(t.URL, t.File))
	case Audio:
		return fmt.Sprintf("<audio %s>", ref(t.URL, t.File))
	case File:
		return fmt.Sprintf("<a href='%s'>%s</a>", ref(t.URL, t.FileData), t.Name)
	default:
		return "None"
	}
}

// ref picks the authoritative reference: URL over inline payload, "None"
// when neither is present.
func ref(url, inline string) string {
	if url != "" {
		return url
	}
	if inline != "" {
		return inline
	}
	return "None"
}

func (r *Renderer) renderImage(url, inline, baseName string) string {
	raw := ref(url, inline)
	if r.UploadsRoot == "" || raw == "None" {
		return fmt.Sprintf("<img %s>", raw)
	}

	path, err := r.materialize(url, inline, baseName)
	if err != nil {
		r.logger.Warn("image materialization failed, rendering raw reference", "error", err)
		return fmt.Sprintf("<img %s>", raw)
	}
	return fmt.Sprintf("<img %s>", path)
}

// materialize writes the image bytes under UploadsRoot and returns the file
// path. URL references are fetched; inline payloads are base64-decoded,
// tolerating a data: URI prefix.
func (r *Renderer) materialize(url, inline, baseName string) (string, error) {
	var data []byte
	switch {
	case url != "":
		resp, err := r.client.Get(url)
		if err != nil {
			return "", fmt.Errorf("fetching image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetching image: status %d", resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("reading image body: %w", err)
		}
	case inline != "":
		payload := inline
		if strings.HasPrefix(payload, "data:") {
			if idx := strings.Index(payload, ","); idx >= 0 {
				payload = payload[idx+1:]
			}
		}
		var err error
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("decoding inline image: %w", err)
		}
	default:
		return "", fmt.Errorf("no image reference")
	}

	if err := os.MkdirAll(r.UploadsRoot, 0755); err != nil {
		return "", fmt.Errorf("creating uploads directory: %w", err)
	}

	if baseName == "" {
		baseName = uuid.New().String() + ".png"
	}
	path := filepath.Join(r.UploadsRoot, filepath.Base(baseName))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing image file: %w", err)
	}

	r.logger.Debug("image materialized", "path", path, "bytes", len(data))
	return path, nil
}

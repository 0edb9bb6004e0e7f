package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tronbyt/server/internal/config"
	"github.com/tronbyt/server/internal/database"
)

// HTTPRenderer invokes an external rendering service that turns an app
// definition plus config into webp bytes. A 204 response means the app has
// nothing to show, which is reported as zero-length output, not an error.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// NewHTTPRendererFromEnv builds a renderer from the RENDERER_URL setting
func NewHTTPRendererFromEnv() *HTTPRenderer {
	return NewHTTPRenderer(config.Get("RENDERER_URL", "http://localhost:5100"))
}

type renderRequest struct {
	App    string                 `json:"app"`
	Config map[string]interface{} `json:"config"`
}

func (r *HTTPRenderer) Render(ctx context.Context, app *database.App, cfg map[string]interface{}) ([]byte, error) {
	body, err := json.Marshal(renderRequest{App: app.Name, Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read rendered image: %w", err)
		}
		return data, nil
	case http.StatusNoContent:
		// App has nothing to show right now
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}
}

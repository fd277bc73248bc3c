package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgeloop/forgeloop/backend"
)

// ModelLister is implemented by providers whose API exposes a model listing
// route. Backends of providers without one cannot be probed and are kept
// unfiltered.
type ModelLister interface {
	// ModelsURL constructs the model listing endpoint for the base URL.
	ModelsURL(baseURL string) string
}

// modelList is the listing shape shared by the OpenAI-compatible and
// Anthropic APIs: {"data": [{"id": ...}, ...]}.
type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewModelProbe builds a startup capability probe over the configured
// endpoints. Each distinct provider/URL pair is listed once; a backend is
// reported unsupported only when its service answered and the model id is
// absent from the listing. Any listing failure keeps the affected backends,
// favoring availability over filtering.
func NewModelProbe(endpoints map[string]Endpoint, client *http.Client, logger *slog.Logger) backend.Probe {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context) (map[string]bool, error) {
		listings := make(map[string]map[string]bool)
		supported := make(map[string]bool, len(endpoints))

		for name, ep := range endpoints {
			provider := GetProvider(ep.Provider)
			lister, ok := provider.(ModelLister)
			if !ok {
				supported[name] = true
				continue
			}

			key := ep.Provider + "|" + ep.URL
			ids, seen := listings[key]
			if !seen {
				ids = listModels(ctx, client, provider, lister.ModelsURL(ep.URL), logger)
				listings[key] = ids
			}
			if ids == nil {
				supported[name] = true
				continue
			}
			supported[name] = ids[name]
		}

		return supported, nil
	}
}

// listModels fetches one model listing. A nil result means the listing could
// not be obtained and no filtering should be applied for that endpoint.
func listModels(ctx context.Context, client *http.Client, provider Provider, url string, logger *slog.Logger) map[string]bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.Warn("Model listing request invalid", "url", url, "error", err)
		return nil
	}
	provider.SetHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("Model listing failed", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Model listing rejected", "url", url, "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		logger.Warn("Model listing unreadable", "url", url, "error", err)
		return nil
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		logger.Warn("Model listing unparseable", "url", url, "error", err)
		return nil
	}

	ids := make(map[string]bool, len(list.Data))
	for _, m := range list.Data {
		ids[m.ID] = true
	}
	return ids
}

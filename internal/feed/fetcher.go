package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/reclamflow/feed/pkg/errors"
)

const defaultMaxBodyBytes = 4 << 20

// Fetcher retrieves the current items of one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint EndpointSpec, token string) ([]Item, error)
}

// HTTPFetcher polls the reclamation REST API with the user's bearer token.
type HTTPFetcher struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// HTTPFetcherOptions configures NewHTTPFetcher.
type HTTPFetcherOptions struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
	Client       *http.Client
}

func NewHTTPFetcher(opts HTTPFetcherOptions) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	maxBytes := opts.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &HTTPFetcher{baseURL: base, client: client, maxBytes: maxBytes}, nil
}

func (h *HTTPFetcher) Fetch(ctx context.Context, endpoint EndpointSpec, token string) ([]Item, error) {
	url := h.baseURL + "/" + strings.TrimLeft(endpoint.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "GET "+endpoint.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+endpoint.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("GET %s returned %d", endpoint.Path, resp.StatusCode))
	}
	if int64(len(body)) > h.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("GET %s response exceeds %d bytes", endpoint.Path, h.maxBytes))
	}
	return decodeItems(body)
}

// decodeItems accepts a JSON array of objects or a single object.
func decodeItems(body []byte) ([]Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	switch body[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode item list")
		}
		items := make([]Item, 0, len(raw))
		for _, element := range raw {
			var item Item
			if err := json.Unmarshal(element, &item); err != nil || item == nil {
				// Non-object elements carry no identifier; keep them so the
				// caller counts them as skipped.
				items = append(items, Item{})
				continue
			}
			items = append(items, item)
		}
		return items, nil
	case '{':
		var item Item
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode item")
		}
		return []Item{item}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "response is neither an object nor an array")
	}
}

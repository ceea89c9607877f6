// Package mlsvc holds HTTP clients for the external ML services: the topic
// classifier and the named-entity extractor. Both are opaque models behind
// small JSON endpoints.
package mlsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

const defaultTimeout = 30 * time.Second

// Classifier calls the topic-classification service.
type Classifier struct {
	url    string
	client *http.Client
}

// NewClassifier builds a client for the given endpoint.
func NewClassifier(url string, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Classifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Body string `json:"body"`
}

type classifyResponse struct {
	PrimaryLabel        string  `json:"primary_label"`
	PrimaryConfidence   float64 `json:"primary_confidence"`
	SecondaryLabel      string  `json:"secondary_label"`
	SecondaryConfidence float64 `json:"secondary_confidence"`
}

// Classify posts the article body and returns the service's labels.
func (c *Classifier) Classify(ctx context.Context, body string) (pipeline.Classification, error) {
	var resp classifyResponse
	if err := postJSON(ctx, c.client, c.url, classifyRequest{Body: body}, &resp); err != nil {
		return pipeline.Classification{}, fmt.Errorf("classify: %w", err)
	}
	if resp.PrimaryLabel == "" {
		return pipeline.Classification{}, fmt.Errorf("classify: empty primary label")
	}
	return pipeline.Classification{
		PrimaryLabel:        resp.PrimaryLabel,
		PrimaryConfidence:   resp.PrimaryConfidence,
		SecondaryLabel:      resp.SecondaryLabel,
		SecondaryConfidence: resp.SecondaryConfidence,
	}, nil
}

// EntityClient calls the named-entity service. The gazetteer rides along so
// the model can bias toward places in the source's coverage area.
type EntityClient struct {
	url    string
	client *http.Client
}

// NewEntityClient builds a client for the given endpoint.
func NewEntityClient(url string, timeout time.Duration) *EntityClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &EntityClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type entityRequest struct {
	Body   string   `json:"body"`
	Places []string `json:"places,omitempty"`
}

type entityResponse struct {
	Entities []struct {
		Text  string `json:"text"`
		Label string `json:"label"`
	} `json:"entities"`
}

// Entities posts the body plus gazetteer names and returns the extracted set.
// An empty result is valid; the caller inserts the sentinel row.
func (c *EntityClient) Entities(ctx context.Context, body string, gazetteer []pipeline.PlaceEntry) ([]pipeline.ArticleEntity, error) {
	req := entityRequest{Body: body, Places: make([]string, 0, len(gazetteer))}
	for _, place := range gazetteer {
		req.Places = append(req.Places, place.Name)
	}
	var resp entityResponse
	if err := postJSON(ctx, c.client, c.url, req, &resp); err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	out := make([]pipeline.ArticleEntity, 0, len(resp.Entities))
	for _, ent := range resp.Entities {
		if ent.Text == "" {
			continue
		}
		out = append(out, pipeline.ArticleEntity{EntityText: ent.Text, EntityLabel: ent.Label})
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

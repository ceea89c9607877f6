package pipeline

import (
	"context"
	"time"
)

// FetchRequest captures everything needed to fetch a URL politely.
type FetchRequest struct {
	URL     string
	Host    string
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation. Detection
// carries any bot-blocking signal the fetch observed; the core only consumes
// StatusCode and Detection.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Detection  DetectionType
}

// Detected reports whether the response carried a bot-detection signal.
func (r FetchResponse) Detected() bool {
	return r.Detection != ""
}

// Fetcher retrieves a URL. Implementations own the network mechanics; callers
// own politeness pacing.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Extracted holds the structured fields pulled out of raw page content.
type Extracted struct {
	Title       string
	Author      string
	Body        string
	PublishedAt *time.Time
}

// Extractor turns raw HTML into structured article fields.
type Extractor interface {
	Extract(ctx context.Context, rawContent []byte) (Extracted, error)
}

// Classification is the ML classifier's output for one article body.
type Classification struct {
	PrimaryLabel        string
	PrimaryConfidence   float64
	SecondaryLabel      string
	SecondaryConfidence float64
}

// Classifier assigns topic labels to article bodies. Opaque ML service.
type Classifier interface {
	Classify(ctx context.Context, body string) (Classification, error)
}

// EntityExtractor pulls named entities from article text, optionally guided by
// the gazetteer for the article's coverage area.
type EntityExtractor interface {
	Entities(ctx context.Context, body string, gazetteer []PlaceEntry) ([]ArticleEntity, error)
}

// GazetteerProvider loads the place-name reference set for a source. Callers
// must cache per batch (see gazetteer.BatchCache); loads are large table scans.
type GazetteerProvider interface {
	LoadGazetteer(ctx context.Context, sourceID int64, datasetID *int64) ([]PlaceEntry, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

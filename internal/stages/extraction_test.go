package stages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

func newExtraction(fetcher *scriptedFetcher, extractor pipeline.Extractor, articles *fakeArticles, candidates *fakeCandidates, emitter *captureEmitter, maxFailures int) *Extraction {
	return NewExtraction(
		fetcher,
		&noopLimiter{},
		fixedPoliteness{},
		&successCounter{},
		extractor,
		articles,
		candidates,
		sha256ishHasher{},
		emitter,
		fixedClock{now: time.Unix(1700000000, 0)},
		maxFailures,
		testLogger(),
	)
}

func TestExtractionCreatesArticle(t *testing.T) {
	t.Parallel()

	url := "https://a.com/news/2024/05/city-council-votes-on-budget"
	fetcher := &scriptedFetcher{responses: map[string]pipeline.FetchResponse{
		url: {StatusCode: 200, Body: []byte(articlePage)},
	}}
	extractor := fixedExtractor{result: pipeline.Extracted{
		Title:  "Council votes on budget",
		Author: "Alison Patton",
		Body:   longParagraph,
	}}
	articles := newFakeArticles()
	candidates := newFakeCandidates()
	candidates.statuses[5] = pipeline.LinkStatusArticle

	e := newExtraction(fetcher, extractor, articles, candidates, &captureEmitter{}, 3)
	err := e.Process(context.Background(), []pipeline.WorkItem{
		{ID: 5, Kind: pipeline.WorkCandidate, URL: url, Host: "a.com", SourceID: 3},
	})
	require.NoError(t, err)

	created := articles.get(1)
	require.Equal(t, int64(5), created.CandidateLinkID)
	require.Equal(t, pipeline.ArticleStatusExtracted, created.Status)
	require.Equal(t, "Council votes on budget", created.Title)
	require.NotEmpty(t, created.ContentHash)
}

func TestExtractionLeavesItemOnTransientFailure(t *testing.T) {
	t.Parallel()

	url := "https://a.com/news/2024/05/x-y-z-w"
	fetcher := &scriptedFetcher{errs: map[string]error{url: errors.New("connection reset")}}
	articles := newFakeArticles()
	candidates := newFakeCandidates()
	candidates.statuses[5] = pipeline.LinkStatusArticle

	e := newExtraction(fetcher, fixedExtractor{}, articles, candidates, &captureEmitter{}, 3)
	err := e.Process(context.Background(), []pipeline.WorkItem{
		{ID: 5, Kind: pipeline.WorkCandidate, URL: url, Host: "a.com"},
	})
	require.NoError(t, err)
	require.Empty(t, articles.articles)
	require.Equal(t, pipeline.LinkStatusArticle, candidates.status(5))
}

func TestExtractionRejectsAfterFailureCeiling(t *testing.T) {
	t.Parallel()

	url := "https://a.com/news/2024/05/x-y-z-w"
	fetcher := &scriptedFetcher{errs: map[string]error{url: errors.New("connection reset")}}
	articles := newFakeArticles()
	candidates := newFakeCandidates()
	candidates.statuses[5] = pipeline.LinkStatusArticle

	emitter := &captureEmitter{}
	e := newExtraction(fetcher, fixedExtractor{}, articles, candidates, emitter, 3)
	item := pipeline.WorkItem{ID: 5, Kind: pipeline.WorkCandidate, URL: url, Host: "a.com"}

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Process(context.Background(), []pipeline.WorkItem{item}))
	}
	require.Equal(t, pipeline.LinkStatusRejected, candidates.status(5))

	// Exhausting the budget flags the host so the sensitivity engine sees it.
	detections := emitter.ofKind(telemetry.KindDetection)
	require.Len(t, detections, 1)
	det := detections[0].(telemetry.Detection)
	require.Equal(t, "a.com", det.Host)
	require.Equal(t, pipeline.DetectionRepeatedFailure, det.Type)
}

func TestExtractionDoesNotAdvanceOnDetection(t *testing.T) {
	t.Parallel()

	url := "https://a.com/news/2024/05/x-y-z-w"
	fetcher := &scriptedFetcher{responses: map[string]pipeline.FetchResponse{
		url: {StatusCode: 403, Detection: pipeline.DetectionForbidden},
	}}
	articles := newFakeArticles()
	candidates := newFakeCandidates()
	candidates.statuses[5] = pipeline.LinkStatusArticle

	e := newExtraction(fetcher, fixedExtractor{}, articles, candidates, &captureEmitter{}, 5)
	err := e.Process(context.Background(), []pipeline.WorkItem{
		{ID: 5, Kind: pipeline.WorkCandidate, URL: url, Host: "a.com"},
	})
	require.NoError(t, err)
	require.Empty(t, articles.articles)
	require.Equal(t, pipeline.LinkStatusArticle, candidates.status(5))
}

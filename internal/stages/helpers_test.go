package stages

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/botsense"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/store"
	"github.com/localnewslab/newsminer/internal/telemetry"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type captureEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (e *captureEmitter) Emit(evt telemetry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) ofKind(kind telemetry.Kind) []telemetry.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []telemetry.Event
	for _, evt := range e.events {
		if evt.Kind() == kind {
			out = append(out, evt)
		}
	}
	return out
}

type noopLimiter struct {
	waits []string
}

func (l *noopLimiter) Wait(_ context.Context, host string) error {
	l.waits = append(l.waits, host)
	return nil
}

type fixedPoliteness struct {
	cfg botsense.LevelConfig
}

func (p fixedPoliteness) ConfigFor(context.Context, string) (botsense.LevelConfig, error) {
	return p.cfg, nil
}

type successCounter struct {
	mu    sync.Mutex
	hosts []string
}

func (s *successCounter) RecordSuccess(_ context.Context, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = append(s.hosts, host)
	return nil
}

type scriptedFetcher struct {
	responses map[string]pipeline.FetchResponse
	errs      map[string]error
	fetched   []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	f.fetched = append(f.fetched, req.URL)
	if err, ok := f.errs[req.URL]; ok {
		return pipeline.FetchResponse{}, err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return pipeline.FetchResponse{URL: req.URL, StatusCode: 404}, nil
	}
	resp.URL = req.URL
	return resp, nil
}

type fakeSources struct {
	mu         sync.Mutex
	discovered map[int64]time.Time
}

func newFakeSources() *fakeSources {
	return &fakeSources{discovered: make(map[int64]time.Time)}
}

func (s *fakeSources) GetSourceByHost(context.Context, string) (pipeline.Source, error) {
	return pipeline.Source{}, store.ErrNotFound
}

func (s *fakeSources) ListSources(context.Context) ([]pipeline.Source, error) { return nil, nil }

func (s *fakeSources) UpsertSource(context.Context, pipeline.Source) error { return nil }

func (s *fakeSources) UpdateSensitivity(context.Context, string, int, time.Time, bool) error {
	return nil
}

func (s *fakeSources) MarkDiscovered(_ context.Context, sourceID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered[sourceID] = at
	return nil
}

func (s *fakeSources) RecordBotDetection(context.Context, pipeline.BotDetectionEvent) error {
	return nil
}

type fakeCandidates struct {
	mu       sync.Mutex
	inserted []pipeline.CandidateLink
	statuses map[int64]pipeline.LinkStatus
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{statuses: make(map[int64]pipeline.LinkStatus)}
}

func (c *fakeCandidates) InsertDiscovered(_ context.Context, links []pipeline.CandidateLink) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserted = append(c.inserted, links...)
	return int64(len(links)), nil
}

func (c *fakeCandidates) AdvanceStatus(_ context.Context, id int64, from, to pipeline.LinkStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.statuses[id]
	if !ok || current != from {
		return store.ErrStaleClaim
	}
	c.statuses[id] = to
	return nil
}

func (c *fakeCandidates) status(id int64) pipeline.LinkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[id]
}

type fakeArticles struct {
	mu       sync.Mutex
	nextID   int64
	articles map[int64]*pipeline.Article
	entities map[int64][]pipeline.ArticleEntity
}

func newFakeArticles() *fakeArticles {
	return &fakeArticles{
		nextID:   1,
		articles: make(map[int64]*pipeline.Article),
		entities: make(map[int64][]pipeline.ArticleEntity),
	}
}

func (f *fakeArticles) add(a pipeline.Article) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	a.ID = id
	f.articles[id] = &a
	return id
}

func (f *fakeArticles) CreateArticle(_ context.Context, a pipeline.Article) (int64, error) {
	return f.add(a), nil
}

func (f *fakeArticles) GetArticle(_ context.Context, id int64) (pipeline.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return pipeline.Article{}, store.ErrNotFound
	}
	return *a, nil
}

func (f *fakeArticles) AdvanceStatus(_ context.Context, id int64, from, to pipeline.ArticleStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok || a.Status != from {
		return store.ErrStaleClaim
	}
	a.Status = to
	return nil
}

func (f *fakeArticles) MarkError(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = pipeline.ArticleStatusError
	return nil
}

func (f *fakeArticles) UpdateContent(_ context.Context, id int64, content, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Content = content
	a.ContentHash = hash
	return nil
}

func (f *fakeArticles) SetLabels(_ context.Context, id int64, primary, secondary *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return store.ErrNotFound
	}
	a.PrimaryLabel = primary
	a.SecondaryLabel = secondary
	return nil
}

func (f *fakeArticles) InsertEntities(_ context.Context, articleID int64, entities []pipeline.ArticleEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.entities[articleID]; done {
		return nil
	}
	if len(entities) == 0 {
		entities = []pipeline.ArticleEntity{{
			EntityText:  pipeline.SentinelEntityText,
			EntityLabel: pipeline.SentinelEntityLabel,
		}}
	}
	f.entities[articleID] = entities
	return nil
}

func (f *fakeArticles) get(id int64) pipeline.Article {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.articles[id]
}

type countingGazetteer struct {
	mu      sync.Mutex
	loads   int
	entries []pipeline.PlaceEntry
}

func (g *countingGazetteer) LoadGazetteer(context.Context, int64, *int64) ([]pipeline.PlaceEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loads++
	return g.entries, nil
}

type scriptedEntityExtractor struct {
	entities map[int64][]pipeline.ArticleEntity // keyed by body length, see Entities
	fixed    []pipeline.ArticleEntity
	err      error
}

func (s *scriptedEntityExtractor) Entities(_ context.Context, body string, _ []pipeline.PlaceEntry) ([]pipeline.ArticleEntity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.entities != nil {
		return s.entities[int64(len(body))], nil
	}
	return s.fixed, nil
}

type fixedClassifier struct {
	result pipeline.Classification
	err    error
}

func (c fixedClassifier) Classify(context.Context, string) (pipeline.Classification, error) {
	return c.result, c.err
}

type sha256ishHasher struct{}

func (sha256ishHasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("h%x", len(data)), nil
}

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) {
	return "", fmt.Errorf("hash unavailable")
}

type fixedExtractor struct {
	result pipeline.Extracted
	err    error
}

func (e fixedExtractor) Extract(context.Context, []byte) (pipeline.Extracted, error) {
	return e.result, e.err
}

func testLogger() *zap.Logger { return zap.NewNop() }

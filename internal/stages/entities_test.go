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

func newEntityStage(articles *fakeArticles, extractor pipeline.EntityExtractor, provider pipeline.GazetteerProvider, emitter *captureEmitter) *EntityExtraction {
	return NewEntityExtraction(
		articles,
		extractor,
		provider,
		emitter,
		fixedClock{now: time.Unix(1700000000, 0)},
		3,
		testLogger(),
	)
}

func TestEntityExtractionStoresEntities(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{Status: pipeline.ArticleStatusCleaned, Content: longParagraph})

	extractor := &scriptedEntityExtractor{fixed: []pipeline.ArticleEntity{
		{EntityText: "Columbia", EntityLabel: "GPE"},
		{EntityText: "Boone County", EntityLabel: "GPE"},
	}}
	p := newEntityStage(articles, extractor, &countingGazetteer{}, &captureEmitter{})

	err := p.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, Host: "a.com", SourceID: 3},
	})
	require.NoError(t, err)
	require.Len(t, articles.entities[id], 2)
}

func TestEntityExtractionWritesSentinelForEmptyResult(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{Status: pipeline.ArticleStatusCleaned, Content: longParagraph})

	p := newEntityStage(articles, &scriptedEntityExtractor{}, &countingGazetteer{}, &captureEmitter{})
	err := p.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, Host: "a.com", SourceID: 3},
	})
	require.NoError(t, err)

	rows := articles.entities[id]
	require.Len(t, rows, 1)
	require.True(t, rows[0].Sentinel())
}

func TestEntityExtractionMarksErrorAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{Status: pipeline.ArticleStatusCleaned, Content: longParagraph})

	extractor := &scriptedEntityExtractor{err: errors.New("model unavailable")}
	p := newEntityStage(articles, extractor, &countingGazetteer{}, &captureEmitter{})

	item := pipeline.WorkItem{ID: id, Kind: pipeline.WorkArticle, Host: "a.com", SourceID: 3}
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Process(context.Background(), []pipeline.WorkItem{item}))
		require.Equal(t, pipeline.ArticleStatusCleaned, articles.get(id).Status)
	}

	require.NoError(t, p.Process(context.Background(), []pipeline.WorkItem{item}))
	require.Equal(t, pipeline.ArticleStatusError, articles.get(id).Status)
	require.Empty(t, articles.entities[id])
}

func TestBatchSharingKeyLoadsGazetteerOnce(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	var items []pipeline.WorkItem
	dataset := int64(7)
	for i := 0; i < 13; i++ {
		id := articles.add(pipeline.Article{Status: pipeline.ArticleStatusCleaned, Content: longParagraph})
		items = append(items, pipeline.WorkItem{
			ID: id, Kind: pipeline.WorkArticle, Host: "a.com", SourceID: 3, DatasetID: &dataset,
		})
	}

	provider := &countingGazetteer{entries: []pipeline.PlaceEntry{{Name: "Columbia", Kind: "city"}}}
	emitter := &captureEmitter{}
	p := newEntityStage(articles, &scriptedEntityExtractor{}, provider, emitter)

	require.NoError(t, p.Process(context.Background(), items))
	require.Equal(t, 1, provider.loads)

	accesses := emitter.ofKind(telemetry.KindCacheAccess)
	require.Len(t, accesses, 13)
	require.False(t, accesses[0].(telemetry.CacheAccess).Hit)
	require.True(t, accesses[1].(telemetry.CacheAccess).Hit)
}

func TestEachBatchLoadsFresh(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	provider := &countingGazetteer{}
	p := newEntityStage(articles, &scriptedEntityExtractor{}, provider, &captureEmitter{})

	id1 := articles.add(pipeline.Article{Status: pipeline.ArticleStatusCleaned, Content: longParagraph})
	id2 := articles.add(pipeline.Article{Status: pipeline.ArticleStatusCleaned, Content: longParagraph})

	require.NoError(t, p.Process(context.Background(), []pipeline.WorkItem{
		{ID: id1, Kind: pipeline.WorkArticle, Host: "a.com", SourceID: 3},
	}))
	require.NoError(t, p.Process(context.Background(), []pipeline.WorkItem{
		{ID: id2, Kind: pipeline.WorkArticle, Host: "a.com", SourceID: 3},
	}))
	// The cache is per batch, so the second batch loads again.
	require.Equal(t, 2, provider.loads)
}

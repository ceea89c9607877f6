package stages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/wire"
)

func newCleaning(articles *fakeArticles) *Cleaning {
	validator := wire.NewValidator(wire.Config{
		WireServices:   []string{"AP", "Associated Press", "Reuters", "AFP", "CNN", "Bloomberg"},
		LocalCallsigns: []string{"KMIZ", "KOMU"},
		LocalityKeywords: map[string][]string{
			"a.com": {"columbia", "boone county", "mid-missouri"},
		},
	})
	return NewCleaning(
		articles,
		validator,
		sha256ishHasher{},
		&captureEmitter{},
		fixedClock{now: time.Unix(1700000000, 0)},
		3,
		testLogger(),
	)
}

func TestCleaningMarksWireSyndication(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status: pipeline.ArticleStatusExtracted,
		Author: "Associated Press",
		Content: "PARIS (AP) — French officials announced new measures on Tuesday.\n\n" +
			longParagraph,
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/news/2024/05/french-measures", Host: "a.com"},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusWire, articles.get(id).Status)
}

func TestCleaningKeepsLocalBroadcasterLocal(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusExtracted,
		Author:  "Alison Patton",
		Content: "COLUMBIA, Mo. (KMIZ) — City council members voted Tuesday.\n\n" + longParagraph,
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/news/2024/05/council-votes", Host: "a.com"},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusLocal, articles.get(id).Status)
}

func TestCleaningDefaultsToCleaned(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusExtracted,
		Author:  "Alison Patton",
		Content: longParagraph,
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/news/2024/05/council-votes", Host: "a.com"},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusCleaned, articles.get(id).Status)
}

func TestCleaningRoutesOpinionByURL(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusExtracted,
		Author:  "Alison Patton",
		Content: longParagraph,
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/opinion/2024/05/why-i-think-so", Host: "a.com"},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusOpinion, articles.get(id).Status)
}

func TestCleaningRoutesObituaryByURL(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusExtracted,
		Author:  "",
		Content: longParagraph,
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/obituaries/jane-doe-1940-2024", Host: "a.com"},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusObituary, articles.get(id).Status)
}

func TestCleaningNormalizesContent(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusExtracted,
		Content: "line one   \r\n\r\n\r\n\r\nline two\t\n",
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/news/2024/05/x", Host: "a.com"},
	})
	require.NoError(t, err)

	got := articles.get(id)
	require.Equal(t, "line one\n\nline two", got.Content)
	require.NotEmpty(t, got.ContentHash)
}

func TestCleaningSkipsStaleClaim(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusCleaned,
		Content: longParagraph,
	})

	c := newCleaning(articles)
	err := c.Process(context.Background(), []pipeline.WorkItem{
		{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/news/2024/05/x", Host: "a.com"},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.ArticleStatusCleaned, articles.get(id).Status)
}

func TestCleaningMarksErrorAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	articles := newFakeArticles()
	// Content needs normalization so every pass goes through the hasher.
	id := articles.add(pipeline.Article{
		Status:  pipeline.ArticleStatusExtracted,
		Content: "line one   \r\n" + longParagraph,
	})

	c := NewCleaning(
		articles,
		wire.NewValidator(wire.Config{}),
		failingHasher{},
		&captureEmitter{},
		fixedClock{now: time.Unix(1700000000, 0)},
		3,
		testLogger(),
	)

	item := pipeline.WorkItem{ID: id, Kind: pipeline.WorkArticle, URL: "https://a.com/news/2024/05/x", Host: "a.com"}
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Process(context.Background(), []pipeline.WorkItem{item}))
		require.Equal(t, pipeline.ArticleStatusExtracted, articles.get(id).Status)
	}

	// Third consecutive failure exhausts the budget and parks the article.
	require.NoError(t, c.Process(context.Background(), []pipeline.WorkItem{item}))
	require.Equal(t, pipeline.ArticleStatusError, articles.get(id).Status)
}

func TestNormalizeContent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapse blanks", "a\n\n\n\nb", "a\n\nb"},
		{"strip cr", "a\r\nb", "a\nb"},
		{"trim edges", "  \na\n  ", "a"},
		{"idempotent", "a\n\nb", "a\n\nb"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, normalizeContent(tc.in))
		})
	}
}

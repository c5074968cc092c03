package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/constants"
)

const techFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>BBC News - Technology</title>
<item><title>Chipmaker unveils new processor</title><link>https://bbc.co.uk/1</link><description>d1</description><pubDate>Mon, 01 Jan 2025 10:00:00 GMT</pubDate></item>
<item><title><![CDATA[Robots learn to fold laundry]]></title><link>https://bbc.co.uk/2</link></item>
<item><title>Satellite internet expands</title><link>https://bbc.co.uk/3</link></item>
<item><title>Fourth story</title><link>https://bbc.co.uk/4</link></item>
</channel></rss>`

func newFakeFeeds(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/news/technology/rss.xml":
			fmt.Fprint(w, techFeed)
		case "/news/health/rss.xml":
			fmt.Fprint(w, `<rss><channel></channel></rss>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectNewsCategory(t *testing.T) {
	cases := map[string]string{
		"What's the latest tech news?":   CategoryTechnology,
		"any stock market headlines":     CategoryBusiness,
		"tell me the football news":      CategorySports,
		"news about AI":                  CategoryTechnology,
		"news about the latest research": CategoryScience,
		"read me the headlines":          CategoryGeneral,
		"business and technology news":   CategoryBusiness,
	}
	for text, want := range cases {
		assert.Equal(t, want, DetectNewsCategory(text), text)
	}
}

func TestIsNewsQuery(t *testing.T) {
	assert.True(t, IsNewsQuery("What are today's headlines?"))
	assert.True(t, IsNewsQuery("Any breaking news"))
	assert.True(t, IsNewsQuery("tell me about current events"))
	assert.False(t, IsNewsQuery("What is the capital of France?"))
	assert.False(t, IsNewsQuery("sign up for the newsletter"))
}

func TestNews_ExecuteFormatsTopHeadlines(t *testing.T) {
	srv := newFakeFeeds(t)
	news := NewNews(srv.URL, zap.NewNop())

	text, err := news.Execute(context.Background(), "latest technology news")
	require.NoError(t, err)

	want := "Here are the latest technology news headlines:\n\n" +
		"1. Chipmaker unveils new processor - BBC News\n" +
		"2. Robots learn to fold laundry - BBC News\n" +
		"3. Satellite internet expands - BBC News\n" +
		"\nWould you like me to read any of these articles in detail?"
	assert.Equal(t, want, text)
}

func TestNews_Failures(t *testing.T) {
	srv := newFakeFeeds(t)
	news := NewNews(srv.URL, zap.NewNop())

	_, err := news.Execute(context.Background(), "health news")
	assert.ErrorIs(t, err, ErrNoHeadlines)

	_, err = news.Execute(context.Background(), "sports news")
	assert.ErrorContains(t, err, "HTTP 404")
}

type fakeGenerator struct {
	generate     func(ctx context.Context, req adapter.Request) (adapter.FragmentStream, error)
	generateOnce func(ctx context.Context, req adapter.Request) (string, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req adapter.Request) (adapter.FragmentStream, error) {
	return f.generate(ctx, req)
}

func (f *fakeGenerator) GenerateOnce(ctx context.Context, req adapter.Request) (string, error) {
	return f.generateOnce(ctx, req)
}

type fakeSkill struct {
	text string
	err  error
}

func (f *fakeSkill) Name() string        { return SkillNews }
func (f *fakeSkill) Description() string { return "fake" }
func (f *fakeSkill) Execute(context.Context, string) (string, error) {
	return f.text, f.err
}

func TestNewsRouter(t *testing.T) {
	next := &fakeGenerator{
		generate: func(ctx context.Context, req adapter.Request) (adapter.FragmentStream, error) {
			return adapter.NewStaticStream("Paris", "."), nil
		},
		generateOnce: func(ctx context.Context, req adapter.Request) (string, error) {
			return "Paris.", nil
		},
	}

	t.Run("news goes to the skill", func(t *testing.T) {
		r := NewNewsRouter(next, &fakeSkill{text: "Here are the latest general news headlines"}, zap.NewNop())
		stream, err := r.Generate(context.Background(), adapter.Request{UserMessage: "read the headlines"})
		require.NoError(t, err)
		text, err := adapter.Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Here are the latest general news headlines", text)
	})

	t.Run("skill failure gives fallback", func(t *testing.T) {
		r := NewNewsRouter(next, &fakeSkill{err: errors.New("feed down")}, zap.NewNop())
		text, err := r.GenerateOnce(context.Background(), adapter.Request{UserMessage: "any news?"})
		require.NoError(t, err)
		assert.Equal(t, constants.FallbackNewsFailed, text)
	})

	t.Run("other questions pass through", func(t *testing.T) {
		r := NewNewsRouter(next, &fakeSkill{text: "unused"}, zap.NewNop())
		stream, err := r.Generate(context.Background(), adapter.Request{UserMessage: "What is the capital of France?"})
		require.NoError(t, err)
		text, err := adapter.Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, "Paris.", text)
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(NewWebSearch(WebSearchConfig{}, zap.NewNop()))
	r.Register(&fakeSkill{})

	s, ok := r.Get(SkillWebSearch)
	require.True(t, ok)
	assert.Equal(t, SkillWebSearch, s.Name())

	_, ok = r.Get("weather")
	assert.False(t, ok)
	assert.Equal(t, []string{SkillNews, SkillWebSearch}, r.List())

	var nilRegistry *Registry
	_, ok = nilRegistry.Get(SkillWebSearch)
	assert.False(t, ok)
}

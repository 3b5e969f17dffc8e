package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	pages    map[string]string
	redirect map[string]string
	visited  []string
}

func (f *fakeRenderer) Render(_ context.Context, u string) (string, string, error) {
	f.visited = append(f.visited, u)
	if to, ok := f.redirect[u]; ok {
		return to, "<html></html>", nil
	}
	html, ok := f.pages[u]
	if !ok {
		return "", "", errors.New("navigation timeout")
	}
	return u, html, nil
}

const listURL = "https://market.yandex.ru/catalog--smartfony/26893750/list?hid=91491"

func TestPageURL(t *testing.T) {
	first, err := PageURL(listURL, 1)
	require.NoError(t, err)
	assert.Equal(t, listURL, first)

	third, err := PageURL(listURL, 3)
	require.NoError(t, err)
	assert.Equal(t, "https://market.yandex.ru/catalog--smartfony/26893750/list?hid=91491&page=3", third)

	replaced, err := PageURL(listURL+"&page=7", 2)
	require.NoError(t, err)
	assert.Equal(t, "https://market.yandex.ru/catalog--smartfony/26893750/list?hid=91491&page=2", replaced)
}

func TestIsChallengeURL(t *testing.T) {
	assert.True(t, IsChallengeURL("https://market.yandex.ru/showcaptcha?retpath=x"))
	assert.True(t, IsChallengeURL("https://market.yandex.ru/CheckCaptcha"))
	assert.False(t, IsChallengeURL(listURL))
}

func TestExtractLinks(t *testing.T) {
	html := `<div data-zone-name="productSnippet">
			<a href="/product--phone-a/1?sku=9#reviews">A</a>
			<a href="/product--phone-a/1?sku=9">A again</a>
		</div>
		<div data-zone-name="productSnippet"><a href="/card/phone-b/2">B</a></div>
		<div data-zone-name="productSnippet"><a href="/brands/apple">brand</a></div>
		<a href="/product--outside/3">not in a snippet</a>`

	links, err := ExtractLinks(listURL, html)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://market.yandex.ru/product--phone-a/1?sku=9",
		"https://market.yandex.ru/card/phone-b/2",
	}, links)
}

func TestCrawlMergesPagesAndSkipsFailures(t *testing.T) {
	page2, _ := PageURL(listURL, 2)
	page3, _ := PageURL(listURL, 3)
	page4, _ := PageURL(listURL, 4)
	r := &fakeRenderer{
		pages: map[string]string{
			listURL: `<div data-zone-name="productSnippet"><a href="/product--b/2">b</a></div>`,
			page2: `<div data-zone-name="productSnippet"><a href="/product--a/1">a</a>
				<a href="/product--b/2">b</a></div>`,
		},
		redirect: map[string]string{page3: "https://market.yandex.ru/showcaptcha?retpath=1"},
	}

	links, err := New(r, Options{Pages: 4}, nil).Crawl(context.Background(), listURL)
	require.NoError(t, err)

	assert.Equal(t, []string{listURL, page2, page3, page4}, r.visited)
	assert.Equal(t, []string{
		"https://market.yandex.ru/product--a/1",
		"https://market.yandex.ru/product--b/2",
	}, links)
}

func TestCrawlHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&fakeRenderer{}, DefaultOptions(), nil).Crawl(ctx, listURL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteLinksSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.txt")

	require.NoError(t, WriteLinks(path, []string{"https://b", "https://a"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://a\nhttps://b\n", string(data))
	assert.NoFileExists(t, path+".tmp")
}

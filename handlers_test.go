package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	cfg := Config{
		AdminToken:    "secret",
		AdminUser:     "admin",
		AdminPass:     "admin123",
		MaxImageBytes: 1 << 20,
		DevMode:       true,
	}
	dev := NewDevStorage("http://storage.test")
	store := NewStore(nil)
	a := newApp(cfg, testLogger(), store, NewDispatcher(dev, testLogger()), NewMemPersister(), dev)

	mux := http.NewServeMux()
	a.routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return a, srv
}

func doJSON(t *testing.T, method, url string, body interface{}, admin bool) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if admin {
		req.Header.Set("X-Admin-Token", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestLoginSetsSessionCookie(t *testing.T) {
	_, srv := newTestApp(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/login",
		map[string]string{"username": "admin", "password": "admin123"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Cookies())
	assert.Equal(t, "session", resp.Cookies()[0].Name)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/login",
		map[string]string{"username": "admin", "password": "wrong"}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	a, srv := newTestApp(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/items", map[string]string{"kind": "link"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items", map[string]string{"kind": "product"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Anonymous adds are refused.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items", map[string]string{"kind": "link"}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items/reorder",
		map[string][]int64{"order": {1, 2}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []int64{1, 2}, ids(a.store.Items()))

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items/reorder",
		map[string][]int64{"order": {1, 1}}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "bad order is a user error, not a panic")

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items/1/visibility", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	it, _ := a.store.Get(1)
	assert.False(t, it.Visible)

	// Two-phase delete: stage, then cancel leaves everything in place.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/items/2", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items/remove/cancel", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, a.store.Items(), 2)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/items/2", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items/remove/confirm", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, a.store.Items(), 1)
}

func TestUpdateItemMultipart(t *testing.T) {
	a, srv := newTestApp(t)
	id := a.store.Add(KindProduct)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Cerámica"))
	require.NoError(t, mw.WriteField("price", "1500"))
	require.NoError(t, mw.WriteField("categories", "Arte"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/items/1", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	it, _ := a.store.Get(id)
	assert.Equal(t, "Cerámica", it.Product.Title)
	assert.Equal(t, int64(1500), it.Product.Price)
	assert.Equal(t, []string{"Arte"}, it.Categories)
}

func TestUpdateItemRejectsOversizedDescription(t *testing.T) {
	a, srv := newTestApp(t)
	a.store.Add(KindProduct)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("description", strings.Repeat("x", maxDescriptionLen+1)))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/items/1", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImageUploadCropAndPublish(t *testing.T) {
	a, srv := newTestApp(t)
	id := a.store.Add(KindProduct)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(makePNG(t, 200, 200))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("aspect", "portrait"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/items/1/images", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	it, _ := a.store.Get(id)
	require.Len(t, it.Images(), 1)
	assert.True(t, it.Images()[0].Local())
	assert.Equal(t, AspectPortrait, it.Images()[0].AspectRatio)

	// Publish: the staged local becomes a durable dev-storage URL.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/publish", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	it, _ = a.store.Get(id)
	require.Len(t, it.Images(), 1)
	assert.False(t, it.Images()[0].Local())
	assert.True(t, strings.HasPrefix(it.Images()[0].URL, "http://storage.test/dev-assets/"))

	doc, ok, err := a.persist.LoadPage(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, doc.Items, 1)
}

func TestPublishWithoutPermissionMakesNoCall(t *testing.T) {
	a, srv := newTestApp(t)
	a.store.Add(KindProduct)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/publish", nil, false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, ok, err := a.persist.LoadPage(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "nothing reached the persistence collaborator")
}

func TestPublicPageFiltersHiddenItems(t *testing.T) {
	a, srv := newTestApp(t)
	require.NoError(t, a.store.AddCategory("Música"))
	require.NoError(t, a.store.AddCategory("Ropa"))

	visibleID := a.store.Add(KindLink)
	cats := []string{"Música"}
	require.NoError(t, a.store.Update(visibleID, ItemPatch{Categories: &cats}))
	hiddenID := a.store.Add(KindLink)
	require.NoError(t, a.store.ToggleVisibility(hiddenID))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/publish", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/public", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Items      []Item   `json:"items"`
		Categories []string `json:"categories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, visibleID, page.Items[0].ID)
	assert.Equal(t, []string{"Música"}, page.Categories)
}

func TestCategoriesOverHTTP(t *testing.T) {
	a, srv := newTestApp(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/categories", map[string]string{"name": "Música"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/categories", map[string]string{"name": "música"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "case-insensitive duplicate")

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/categories/Música", map[string]string{"name": "Discos"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Discos"}, catNames(a.store.Categories()))

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/categories/Discos", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, a.store.Categories())
}

func TestConfirmedRemovalDeletesStoredImages(t *testing.T) {
	a, srv := newTestApp(t)
	id := a.store.Add(KindProduct)
	require.NoError(t, a.store.AppendImage(id, ImageRef{
		URL:         EncodeDataURI("image/png", makePNG(t, 8, 8)),
		AspectRatio: AspectSquare,
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/publish", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	it, _ := a.store.Get(id)
	name := strings.TrimPrefix(it.Images()[0].URL, "http://storage.test/dev-assets/")
	_, ok := a.devAssets.Object(name)
	require.True(t, ok)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/items/1", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/items/remove/confirm", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok = a.devAssets.Object(name)
	assert.False(t, ok, "stored object should be deleted with the item")
}

func TestDevAssetsServeUploadedObjects(t *testing.T) {
	a, srv := newTestApp(t)

	urls, err := a.devAssets.UploadBatch(context.Background(), 7, []Payload{{Name: "x", MIME: "image/png", Data: makePNG(t, 4, 4)}})
	require.NoError(t, err)
	require.Len(t, urls, 1)

	name := strings.TrimPrefix(urls[0], "http://storage.test/dev-assets/")
	resp, err := http.Get(srv.URL + "/dev-assets/" + name)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

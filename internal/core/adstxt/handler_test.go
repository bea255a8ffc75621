package adstxt

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postCheck(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ads-txt/check/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out
}

func TestHandleCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ads.txt" {
			fmt.Fprint(w, adsTxtBody)
			return
		}
		fmt.Fprint(w, "home")
	}))
	defer srv.Close()

	s := New(nil, Options{FetchTimeout: 2 * time.Second, RatePerSecond: 1000})
	app := fiber.New()
	app.Post("/ads-txt/check/", NewHandler(s).HandleCheck)

	code, body := postCheck(t, app, fmt.Sprintf(`{"urls": [%q]}`, srv.URL))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first, _ := results[0].(map[string]any)
	adsTxt, _ := first["ads_txt"].(map[string]any)
	require.NotNil(t, adsTxt)
	assert.Equal(t, float64(200), adsTxt["status_code"])
}

func TestHandleCheckRejectsEmptyAndOversized(t *testing.T) {
	s := New(nil, Options{FetchTimeout: time.Second, RatePerSecond: 1000})
	app := fiber.New()
	app.Post("/ads-txt/check/", NewHandler(s).HandleCheck)

	code, body := postCheck(t, app, `{"urls": []}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	urls := make([]string, maxSyncURLs+1)
	for i := range urls {
		urls[i] = fmt.Sprintf("site%03d.com", i)
	}
	raw, err := json.Marshal(map[string]any{"urls": urls})
	require.NoError(t, err)
	code, _ = postCheck(t, app, string(raw))
	assert.Equal(t, http.StatusBadRequest, code)
}

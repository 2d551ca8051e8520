package httputil_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/pkg/httputil"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		switch r.URL.Path {
		case "/json":
			w.Write([]byte(`{"height": 10}`))
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			require.Equal(t, "text/plain", r.Header.Get("Content-Type"))
			w.Write(body)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := httputil.NewClient(0, map[string]string{"X-API-KEY": "secret"})

	var res struct {
		Height int `json:"height"`
	}
	require.NoError(t, client.GetJSON(ctx, srv.URL+"/json", &res))
	require.Equal(t, 10, res.Height)

	body, err := client.Post(ctx, srv.URL+"/echo", "hello", "text/plain")
	require.NoError(t, err)
	require.Equal(t, "hello", body)

	_, err = client.Get(ctx, srv.URL+"/missing")
	require.Error(t, err)
	require.True(t, httputil.IsNotFound(err))

	_, _, err = client.NewHTTPRequest(ctx, "LIST", srv.URL, "", nil)
	require.Error(t, err)
}

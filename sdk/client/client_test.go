package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newStub(t *testing.T, handler func(method string, body map[string]any) (int, any)) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v1/plugin/{method}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		status, out := handler(r.PathValue("method"), body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "key")
}

func TestClientServerCalls(t *testing.T) {
	var (
		gotMethod string
		gotBody   map[string]any
	)
	c := newStub(t, func(method string, body map[string]any) (int, any) {
		gotMethod, gotBody = method, body
		return http.StatusOK, map[string]any{"result": map[string]any{"url": "http://x", "persist": true}}
	})
	srv, err := c.SetServer(context.Background(), "http://x", true, false)
	if err != nil {
		t.Fatalf("set server: %v", err)
	}
	if srv.URL != "http://x" || !srv.Persist {
		t.Fatalf("unexpected server %+v", srv)
	}
	if gotMethod != "setServer" || gotBody["url"] != "http://x" || gotBody["autoRestart"] != false {
		t.Fatalf("unexpected request %s %v", gotMethod, gotBody)
	}
	if err := c.SetDevMode(context.Background(), true); err != nil || gotMethod != "enableDevMode" {
		t.Fatalf("set dev mode: %s %v", gotMethod, err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestClientDecodesBridgeError(t *testing.T) {
	c := newStub(t, func(string, map[string]any) (int, any) {
		return http.StatusUnprocessableEntity, map[string]any{"error": map[string]any{
			"code": "CHECKSUM_MISMATCH", "message": "mismatch", "expected": "aa", "actual": "bb",
		}}
	})
	err := c.DownloadAsset(context.Background(), DownloadRequest{URL: "https://cdn/app.zip", Checksum: "aa"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected bridge error, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "CHECKSUM_MISMATCH" || apiErr.Actual != "bb" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientPlainError(t *testing.T) {
	c := newStub(t, nil)
	c.APIKey = ""
	_, err := c.GetAssetList(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "unauthorized" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestEndpointTrimsSlash(t *testing.T) {
	c := New("http://localhost:8181/", "")
	if got := c.endpoint("/health"); got != "http://localhost:8181/health" {
		t.Fatalf("unexpected endpoint %s", got)
	}
}

func TestClientOptionOverridesAndAssetInfo(t *testing.T) {
	var gotMethod string
	c := newStub(t, func(method string, body map[string]any) (int, any) {
		gotMethod = method
		switch method {
		case "getCleartext":
			return http.StatusOK, map[string]any{"result": map[string]any{"cleartext": true}}
		case "getAndroidScheme":
			return http.StatusOK, map[string]any{"result": map[string]any{"scheme": "capacitor"}}
		case "getAssetInfo":
			return http.StatusOK, map[string]any{"result": map[string]any{"name": body["assetName"], "dir": "/tmp/app", "created": "2026-01-02T03:04:05Z"}}
		default:
			return http.StatusOK, map[string]any{"result": map[string]any{}}
		}
	})
	ctx := context.Background()
	if err := c.SetCleartext(ctx, true); err != nil || gotMethod != "setCleartext" {
		t.Fatalf("set cleartext: %s %v", gotMethod, err)
	}
	if v, err := c.Cleartext(ctx); err != nil || !v {
		t.Fatalf("cleartext: %v %v", v, err)
	}
	if err := c.SetAndroidScheme(ctx, "capacitor"); err != nil || gotMethod != "setAndroidScheme" {
		t.Fatalf("set scheme: %s %v", gotMethod, err)
	}
	if v, err := c.AndroidScheme(ctx); err != nil || v != "capacitor" {
		t.Fatalf("scheme: %q %v", v, err)
	}
	info, err := c.GetAssetInfo(ctx, "app")
	if err != nil || info.Name != "app" || info.Created.Year() != 2026 {
		t.Fatalf("asset info: %+v %v", info, err)
	}
}

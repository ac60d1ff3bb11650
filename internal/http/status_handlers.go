package http

import (
	"context"
	nethttp "net/http"
	"time"

	"go-report-download-panel/internal/backend"
	"go-report-download-panel/internal/download"
	"go-report-download-panel/internal/draft"
)

func servicesStatusHandler(bc *backend.Client, store *draft.Store, ctrl *download.Controller) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
		defer cancel()

		payload := map[string]any{
			"generated_at": time.Now().UTC(),
			"services":     map[string]any{},
		}
		services := payload["services"].(map[string]any)

		services["backend"] = backendStatus(ctx, bc)
		services["draft_store"] = draftStoreStatus(ctx, store)
		services["status_stream"] = map[string]any{
			"enabled": true,
			"state":   string(ctrl.StreamState()),
		}

		writeJSON(w, nethttp.StatusOK, payload)
	}
}

func backendStatus(ctx context.Context, bc *backend.Client) map[string]any {
	if bc == nil || !bc.Enabled() {
		return map[string]any{"enabled": false, "ok": false, "error": "backend integration disabled"}
	}

	latency, err := bc.Ping(ctx)
	recordBackendCall("Ping", latency.Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}
	return map[string]any{
		"enabled":    true,
		"ok":         true,
		"endpoint":   bc.Endpoint(),
		"latency_ms": float64(latency.Microseconds()) / 1000.0,
	}
}

func draftStoreStatus(ctx context.Context, store *draft.Store) map[string]any {
	if store == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "draft store disabled"}
	}

	start := time.Now()
	_, exists, err := store.Restore(ctx)
	recordDraftQuery("Restore", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "draft_exists": exists}
}

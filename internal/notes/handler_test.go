package notes

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/analysis"
	"radar-backend/internal/queue"
	"radar-backend/internal/shared/server/middleware"
)

func newTestRouter(store *fakeStore, producer queue.Producer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", middleware.Tenant())
	NewHandler(NewService(store, producer)).RegisterRoutes(api)
	return r
}

func do(r *gin.Engine, method, path, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(middleware.TenantHeader, tenant)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRetryEndpoint(t *testing.T) {
	store := newFakeStore(failedNote())
	r := newTestRouter(store, queue.NewMemoryQueue())

	if resp := do(r, http.MethodPost, "/api/v1/notes/n1/retry", "t1"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := do(r, http.MethodPost, "/api/v1/notes/n1/retry", "t1"); resp.Code != http.StatusConflict {
		t.Fatalf("second retry expected 409, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/api/v1/notes/n1/retry", "t2"); resp.Code != http.StatusNotFound {
		t.Fatalf("other tenant expected 404, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, "/api/v1/notes/missing/retry", "t1"); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown note expected 404, got %d", resp.Code)
	}
}

func TestRetryEndpointEnqueueFailure(t *testing.T) {
	r := newTestRouter(newFakeStore(failedNote()), errProducer{err: errors.New("down")})
	if resp := do(r, http.MethodPost, "/api/v1/notes/n1/retry", "t1"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestGetAnalysisEndpoint(t *testing.T) {
	result := analysis.Normalize(analysis.Result{Summary: "Went well", SentimentScore: 0.5})
	n := failedNote()
	n.Status, n.Error, n.Analysis = StatusCompleted, "", &result
	r := newTestRouter(newFakeStore(n), queue.NewMemoryQueue())

	resp := do(r, http.MethodGet, "/api/v1/notes/n1/analysis", "t1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Status   string `json:"status"`
		Analysis struct {
			Summary     string   `json:"summary"`
			RiskSignals []string `json:"riskSignals"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "completed" || body.Analysis.Summary != "Went well" || body.Analysis.RiskSignals == nil {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if resp := do(r, http.MethodGet, "/api/v1/notes/n1/analysis", "t2"); resp.Code != http.StatusNotFound {
		t.Fatalf("other tenant expected 404, got %d", resp.Code)
	}
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	httpx "github.com/yungbote/storybook-backend/internal/http"
	httpH "github.com/yungbote/storybook-backend/internal/http/handlers"
	httpMW "github.com/yungbote/storybook-backend/internal/http/middleware"
	storiesmod "github.com/yungbote/storybook-backend/internal/modules/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

type fakeStories struct {
	admitIn  storiesmod.AdmitInput
	admitOut storiesmod.AdmitOutput
	admitErr error
	retryErr error
	status   storiesmod.GenerationStatusView
	statErr  error
	quota    types.QuotaSnapshot
}

func (f *fakeStories) Admit(ctx context.Context, in storiesmod.AdmitInput) (storiesmod.AdmitOutput, error) {
	f.admitIn = in
	return f.admitOut, f.admitErr
}

func (f *fakeStories) Retry(ctx context.Context, in storiesmod.RetryInput) (storiesmod.Result, error) {
	if f.retryErr != nil {
		return storiesmod.Result{}, f.retryErr
	}
	return storiesmod.Result{ID: in.StoryID, JobID: uuid.New(), Status: domainstories.StatusProcessing}, nil
}

func (f *fakeStories) GetGenerationStatus(ctx context.Context, in storiesmod.StatusInput) (storiesmod.GenerationStatusView, error) {
	return f.status, f.statErr
}

func (f *fakeStories) GetQuota(ctx context.Context, ownerID uuid.UUID) (types.QuotaSnapshot, error) {
	return f.quota, nil
}

type env struct {
	router *gin.Engine
	owner  uuid.UUID
	token  string
}

func newEnv(t *testing.T, stories *fakeStories) env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	db := testutil.DB(t)
	testutil.SeedCatalog(t, context.Background(), db)

	auth := services.NewAuthService(log, "test-secret", time.Hour)
	owner := uuid.New()
	tok, err := auth.IssueToken(owner)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	r := httpx.NewRouter(httpx.RouterConfig{
		Log:            log,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, auth),
		StoryHandler:   httpH.NewStoryHandler(log, stories),
		CatalogHandler: httpH.NewCatalogHandler(repos.NewCatalogRepo(db, log)),
		HealthHandler:  httpH.NewHealthHandler(db),
	})
	return env{router: r, owner: owner, token: tok}
}

func (e env) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env.Error.Code
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t, &fakeStories{})
	rec := e.do(t, http.MethodGet, "/api/stories/quota", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: want=%d got=%d", http.StatusUnauthorized, rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id header")
	}
}

func TestCreateStory(t *testing.T) {
	storyID, jobID := uuid.New(), uuid.New()
	fake := &fakeStories{admitOut: storiesmod.AdmitOutput{Result: storiesmod.Result{ID: storyID, JobID: jobID, Status: domainstories.StatusProcessing}}}
	e := newEnv(t, fake)
	theme := uuid.New()

	rec := e.do(t, http.MethodPost, "/api/stories", map[string]any{
		"protagonist_name": "Milo",
		"species":          "fox",
		"target_age":       5,
		"chapter_count":    3,
		"theme_id":         theme,
		"language_id":      uuid.New(),
		"tone_id":          uuid.New(),
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if fake.admitIn.OwnerID != e.owner {
		t.Fatalf("owner: want=%s got=%s", e.owner, fake.admitIn.OwnerID)
	}
	if fake.admitIn.Brief.ProtagonistName != "Milo" || fake.admitIn.Brief.ChapterCount != 3 || fake.admitIn.ThemeID != theme {
		t.Fatalf("admit input not bound: %+v", fake.admitIn)
	}
	var body struct {
		Story    storiesmod.Result `json:"story"`
		Existing bool              `json:"existing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Story.ID != storyID || body.Story.JobID != jobID || body.Existing {
		t.Fatalf("body: got=%+v", body)
	}
}

func TestCreateStoryReturnsActiveStoryWithOK(t *testing.T) {
	fake := &fakeStories{admitOut: storiesmod.AdmitOutput{Result: storiesmod.Result{ID: uuid.New()}, Existing: true}}
	e := newEnv(t, fake)
	rec := e.do(t, http.MethodPost, "/api/stories", map[string]any{"protagonist_name": "Milo"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d", http.StatusOK, rec.Code)
	}
}

func TestCreateStoryMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domainagg.NewError(domainagg.CodeQuotaExceeded, "story.admit", "monthly story limit reached", nil), http.StatusTooManyRequests, "quota_exceeded"},
		{domainagg.NewError(domainagg.CodeValidation, "story.admit", "bad brief", nil), http.StatusBadRequest, "validation"},
		{domainagg.NewError(domainagg.CodeNotFound, "story.admit", "theme not found", nil), http.StatusNotFound, "not_found"},
	}
	fake := &fakeStories{}
	e := newEnv(t, fake)
	for _, tc := range cases {
		fake.admitErr = tc.err
		rec := e.do(t, http.MethodPost, "/api/stories", map[string]any{"protagonist_name": "Milo"}, true)
		if rec.Code != tc.status {
			t.Fatalf("%s: status want=%d got=%d", tc.code, tc.status, rec.Code)
		}
		if got := errorCode(t, rec); got != tc.code {
			t.Fatalf("code: want=%s got=%s", tc.code, got)
		}
	}
}

func TestCreateStoryRejectsMalformedJSON(t *testing.T) {
	e := newEnv(t, &fakeStories{})
	req := httptest.NewRequest(http.MethodPost, "/api/stories", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
}

func TestRetryStory(t *testing.T) {
	fake := &fakeStories{}
	e := newEnv(t, fake)
	if rec := e.do(t, http.MethodPost, "/api/stories/not-a-uuid/retry", nil, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/stories/"+uuid.NewString()+"/retry", nil, true); rec.Code != http.StatusAccepted {
		t.Fatalf("retry: want=%d got=%d", http.StatusAccepted, rec.Code)
	}

	fake.retryErr = domainagg.NewError(domainagg.CodeInvalidState, "story.retry", "only failed stories can be retried", nil)
	rec := e.do(t, http.MethodPost, "/api/stories/"+uuid.NewString()+"/retry", nil, true)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_state" {
		t.Fatalf("invalid state: want=409/invalid_state got=%d %s", rec.Code, rec.Body.String())
	}
}

func TestGetGenerationAndQuota(t *testing.T) {
	id := uuid.New()
	limit, remaining := 5, 4
	fake := &fakeStories{
		status: storiesmod.GenerationStatusView{ID: id, Status: domainstories.StatusProcessing, Stage: "cover"},
		quota:  types.QuotaSnapshot{StoriesCreatedThisMonth: 1, Limit: &limit, Remaining: &remaining, CanCreate: true},
	}
	e := newEnv(t, fake)

	rec := e.do(t, http.MethodGet, "/api/stories/"+id.String()+"/generation", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("generation: want=%d got=%d", http.StatusOK, rec.Code)
	}
	var gen struct {
		Generation storiesmod.GenerationStatusView `json:"generation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gen.Generation.ID != id || gen.Generation.Stage != "cover" {
		t.Fatalf("generation: got=%+v", gen.Generation)
	}

	rec = e.do(t, http.MethodGet, "/api/stories/quota", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("quota: want=%d got=%d", http.StatusOK, rec.Code)
	}
	var q struct {
		Quota types.QuotaSnapshot `json:"quota"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Quota.Remaining == nil || *q.Quota.Remaining != 4 {
		t.Fatalf("quota: got=%+v", q.Quota)
	}

	fake.statErr = domainagg.NewError(domainagg.CodeUnauthorized, "story.status", "not the owner of this story", nil)
	rec = e.do(t, http.MethodGet, "/api/stories/"+id.String()+"/generation", nil, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign story: want=%d got=%d", http.StatusForbidden, rec.Code)
	}
}

func TestCatalogAndHealthArePublic(t *testing.T) {
	e := newEnv(t, &fakeStories{})
	rec := e.do(t, http.MethodGet, "/api/catalog", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog: want=%d got=%d", http.StatusOK, rec.Code)
	}
	var cat struct {
		Themes    []types.Theme    `json:"themes"`
		Languages []types.Language `json:"languages"`
		Tones     []types.Tone     `json:"tones"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cat.Themes) != 1 || len(cat.Languages) != 1 || len(cat.Tones) != 1 {
		t.Fatalf("catalog: got=%+v", cat)
	}

	rec = e.do(t, http.MethodGet, "/healthcheck", nil, false)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: want=200/ok got=%d %q", rec.Code, rec.Body.String())
	}
}

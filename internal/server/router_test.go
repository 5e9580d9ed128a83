package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brycentjw/icp-azle-forum/internal/auth"
	"github.com/brycentjw/icp-azle-forum/internal/forum"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	index int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.index++
	return fmt.Sprintf("id-%d", g.index), nil
}

func newTestHandler(t *testing.T) (http.Handler, *auth.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(forum.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := forum.NewService(forum.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct forum service: %v", err)
	}
	admin, err := forum.NewAddress("admin-a")
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if err := service.BootstrapAdmins(context.Background(), []forum.Address{admin}); err != nil {
		t.Fatalf("failed to bootstrap admin: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "forum-auth",
		Audience:      "forum-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Forum:  service,
		Tokens: tokens,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler, tokens
}

func bearerFor(t *testing.T, tokens *auth.TokenIssuer, address string) string {
	t.Helper()
	token, _, err := tokens.IssueAddressToken(context.Background(), address)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, handler http.Handler, method, path, bearer string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		request.Header.Set("Authorization", bearer)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestIssueTokenReturnsBearerCredential(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/auth/token", "", map[string]string{"address": "user-u"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var payload tokenResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.AccessToken == "" || payload.TokenType != "Bearer" || payload.ExpiresIn <= 0 {
		t.Fatalf("unexpected token payload %+v", payload)
	}
}

func TestIssueTokenRejectsEmptyAddress(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/auth/token", "", map[string]string{"address": "  "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
}

func TestMutationsRequireBearerToken(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/categories", "", map[string]string{"name": "General"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without token, got %d", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/categories", "Bearer not-a-token", map[string]string{"name": "General"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for invalid token, got %d", recorder.Code)
	}
}

func TestCreateCategoryMapsForbiddenTo403(t *testing.T) {
	handler, tokens := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/categories", bearerFor(t, tokens, "user-u"), map[string]string{"name": "General"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for non-admin, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestCategoryTopicPostLifecycle(t *testing.T) {
	handler, tokens := newTestHandler(t)
	adminBearer := bearerFor(t, tokens, "admin-a")
	userBearer := bearerFor(t, tokens, "user-u")

	recorder := doJSON(t, handler, http.MethodPost, "/categories", adminBearer, map[string]string{"name": "General"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var category struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &category); err != nil {
		t.Fatalf("failed to decode category: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/categories/"+category.ID+"/topics", userBearer,
		map[string]string{"title": "Hello", "body": "hi"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var topic topicPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &topic); err != nil {
		t.Fatalf("failed to decode topic: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/categories/"+category.ID+"/topics/"+topic.ID+"/posts", userBearer,
		map[string]string{"body": "p1"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/categories/"+category.ID+"/topics/"+topic.ID+"/posts/0", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var post postPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &post); err != nil {
		t.Fatalf("failed to decode post: %v", err)
	}
	if post.Body != "p1" || post.Position != 0 {
		t.Fatalf("unexpected post payload %+v", post)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/categories", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	var categories struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &categories); err != nil {
		t.Fatalf("failed to decode categories: %v", err)
	}
	if len(categories.Categories) != 1 || categories.Categories[0] != category.ID {
		t.Fatalf("unexpected categories %v", categories.Categories)
	}
}

func TestEditByStrangerMapsTo403(t *testing.T) {
	handler, tokens := newTestHandler(t)
	adminBearer := bearerFor(t, tokens, "admin-a")
	userBearer := bearerFor(t, tokens, "user-u")
	strangerBearer := bearerFor(t, tokens, "user-v")

	recorder := doJSON(t, handler, http.MethodPost, "/categories", adminBearer, map[string]string{"name": "General"})
	var category struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &category); err != nil {
		t.Fatalf("failed to decode category: %v", err)
	}
	recorder = doJSON(t, handler, http.MethodPost, "/categories/"+category.ID+"/topics", userBearer,
		map[string]string{"title": "Hello", "body": "hi"})
	var topic topicPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &topic); err != nil {
		t.Fatalf("failed to decode topic: %v", err)
	}
	doJSON(t, handler, http.MethodPost, "/categories/"+category.ID+"/topics/"+topic.ID+"/posts", userBearer,
		map[string]string{"body": "p1"})

	recorder = doJSON(t, handler, http.MethodPut, "/categories/"+category.ID+"/topics/"+topic.ID+"/posts/0", strangerBearer,
		map[string]string{"body": "tampered"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for stranger edit, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodPut, "/categories/"+category.ID+"/topics/"+topic.ID+"/posts/0", userBearer,
		map[string]string{"body": "hi there"})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content for creator edit, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestDoubleLikeMapsTo409(t *testing.T) {
	handler, tokens := newTestHandler(t)
	adminBearer := bearerFor(t, tokens, "admin-a")
	userBearer := bearerFor(t, tokens, "user-u")

	recorder := doJSON(t, handler, http.MethodPost, "/categories", adminBearer, map[string]string{"name": "General"})
	var category struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &category); err != nil {
		t.Fatalf("failed to decode category: %v", err)
	}
	recorder = doJSON(t, handler, http.MethodPost, "/categories/"+category.ID+"/topics", userBearer,
		map[string]string{"title": "Hello", "body": "hi"})
	var topic topicPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &topic); err != nil {
		t.Fatalf("failed to decode topic: %v", err)
	}

	likesPath := "/categories/" + category.ID + "/topics/" + topic.ID + "/likes"
	if recorder := doJSON(t, handler, http.MethodPost, likesPath, userBearer, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content, got %d", recorder.Code)
	}
	if recorder := doJSON(t, handler, http.MethodPost, likesPath, userBearer, nil); recorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict on double like, got %d", recorder.Code)
	}
	if recorder := doJSON(t, handler, http.MethodDelete, likesPath, userBearer, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content on unlike, got %d", recorder.Code)
	}
}

func TestUnknownTopicMapsTo404(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/categories/missing/topics/also-missing", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", recorder.Code)
	}
}

func TestInvalidPostIndexMapsTo400(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/categories/c/topics/t/posts/abc", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
}

func TestRegistryEndpoints(t *testing.T) {
	handler, tokens := newTestHandler(t)
	adminBearer := bearerFor(t, tokens, "admin-a")
	userBearer := bearerFor(t, tokens, "user-u")

	if recorder := doJSON(t, handler, http.MethodPut, "/moderators/mod-m", userBearer, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden for non-admin grant, got %d", recorder.Code)
	}
	if recorder := doJSON(t, handler, http.MethodPut, "/moderators/mod-m", adminBearer, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content granting moderator, got %d", recorder.Code)
	}
	if recorder := doJSON(t, handler, http.MethodPut, "/ban/user-y", adminBearer, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content banning, got %d", recorder.Code)
	}
	if recorder := doJSON(t, handler, http.MethodPut, "/ban/mod-m", adminBearer, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden banning staff, got %d", recorder.Code)
	}

	recorder := doJSON(t, handler, http.MethodGet, "/ban", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok, got %d", recorder.Code)
	}
	var banned struct {
		Banned []string `json:"banned"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &banned); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(banned.Banned) != 1 || banned.Banned[0] != "user-y" {
		t.Fatalf("unexpected banned set %v", banned.Banned)
	}

	if recorder := doJSON(t, handler, http.MethodDelete, "/ban/user-y", adminBearer, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected no content unbanning, got %d", recorder.Code)
	}
	if recorder := doJSON(t, handler, http.MethodDelete, "/ban/user-y", adminBearer, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found on second unban, got %d", recorder.Code)
	}
}

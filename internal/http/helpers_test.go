package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/mtktsuda/kotori/internal/blob"
	api "github.com/mtktsuda/kotori/internal/http"
	"github.com/mtktsuda/kotori/internal/log"
	"github.com/mtktsuda/kotori/internal/notify"
	"github.com/mtktsuda/kotori/internal/queue"
	"github.com/mtktsuda/kotori/internal/repo"
	"github.com/mtktsuda/kotori/internal/session"
)

// adAccountID is the public id marking sponsored accounts in tests.
const adAccountID = "3d10000"

// fakeIdentity maps access tokens to emails in memory, standing in for the
// hosted identity pool.
type fakeIdentity struct {
	mu      sync.Mutex
	emails  map[string]string
	deleted []string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{emails: map[string]string{}}
}

func (f *fakeIdentity) register(accessToken, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails[accessToken] = email
}

func (f *fakeIdentity) GetEmail(_ context.Context, accessToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.emails[accessToken]
	if !ok {
		return "", errors.New("token not recognised")
	}
	return email, nil
}

func (f *fakeIdentity) DeleteUser(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, email)
	return nil
}

type testEnv struct {
	T        *testing.T
	Ctx      context.Context
	Mongo    *mongodb.MongoDBContainer
	Store    *repo.Store
	Blobs    *blob.Memory
	Identity *fakeIdentity
	Handler  *api.Handler
	Router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	mc, err := mongodb.RunContainer(ctx,
		testcontainers.WithImage("mongo:6"),
	)
	if err != nil {
		t.Fatalf("mongo container: %v", err)
	}

	uri, err := mc.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("mongo uri: %v", err)
	}

	if _, err := log.Init(false); err != nil {
		t.Fatalf("log init: %v", err)
	}

	store, err := repo.NewStore(ctx, uri, "kotori_test")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	idp := newFakeIdentity()
	blobs := blob.NewMemory()
	pub := queue.NewNoop()

	// no redis in tests: the provider rate limit is off
	sessions := session.NewResolver(store, idp, nil, time.Hour, 0)
	notifier := notify.New(store, pub, "kotori.events")

	h := api.NewHandler(store, sessions, notifier, blobs, idp, adAccountID)

	gin.SetMode(gin.TestMode)
	r := api.NewRouter(h)

	return &testEnv{
		T: t, Ctx: ctx, Mongo: mc,
		Store: store, Blobs: blobs, Identity: idp,
		Handler: h, Router: r,
	}
}

func (e *testEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Client.Disconnect(e.Ctx)
	}
	if e.Mongo != nil {
		_ = e.Mongo.Terminate(e.Ctx)
	}
}

// do runs one request through the router. A non-empty body is sent as JSON,
// a non-empty bearer goes into the Authorization header.
func (e *testEnv) do(method, path, body, bearer string) *httptest.ResponseRecorder {
	e.T.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	e.Router.ServeHTTP(w, req)
	return w
}

// upload posts one file as a multipart form.
func (e *testEnv) upload(path, bearer, filename string, data []byte) *httptest.ResponseRecorder {
	e.T.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		e.T.Fatal(err)
	}
	if _, err := io.Copy(fw, bytes.NewReader(data)); err != nil {
		e.T.Fatal(err)
	}
	mw.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	e.Router.ServeHTTP(w, req)
	return w
}

type account struct {
	Bearer string
	Email  string
	OID    string // hex object id
	ID     string // public id
}

// signUp registers a bearer with the fake identity pool and creates the
// profile through the API, the same path a fresh client takes.
func (e *testEnv) signUp(bearer, email, handle string) account {
	e.T.Helper()
	e.Identity.register(strings.TrimPrefix(bearer, "Bearer "), email)

	w := e.do("POST", "/myprofile", `{"handle":"`+handle+`"}`, bearer)
	if w.Code != 200 {
		e.T.Fatalf("sign up %s: %d %s", email, w.Code, w.Body.String())
	}
	var resp struct {
		OID string `json:"_id"`
		ID  string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		e.T.Fatalf("sign up resp: %v; body=%s", err, w.Body.String())
	}
	return account{Bearer: bearer, Email: email, OID: resp.OID, ID: resp.ID}
}

// createPost writes a post (or a comment under parent) and returns its hex id.
func (e *testEnv) createPost(bearer, text, parentHex string) string {
	e.T.Helper()
	path := "/posts"
	if parentHex != "" {
		path = "/posts/" + parentHex + "/comments"
	}
	w := e.do("POST", path, `{"text":"`+text+`"}`, bearer)
	if w.Code != 200 {
		e.T.Fatalf("create post: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.ID == "" {
		e.T.Fatalf("create post resp: %v; body=%s", err, w.Body.String())
	}
	return resp.ID
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode: %v; body=%s", err, w.Body.String())
	}
}

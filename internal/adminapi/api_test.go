package adminapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyboxhq/keybox/internal/rules"
	"github.com/keyboxhq/keybox/internal/store"
)

// fakeStore is an in-memory implementation of the three repository
// interfaces the API depends on.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	packages map[string]*store.Package // keyed by short code
	rules    map[int64][]rules.Rule
	events   map[int64][]*store.UnlockEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:   1,
		packages: make(map[string]*store.Package),
		rules:    make(map[int64][]rules.Rule),
		events:   make(map[int64][]*store.UnlockEvent),
	}
}

func (f *fakeStore) CreatePackage(_ context.Context, p *store.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.packages[p.ShortCode]; exists {
		return store.ErrDuplicateCode
	}
	p.ID = f.nextID
	f.nextID++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	f.packages[p.ShortCode] = &cp
	return nil
}

func (f *fakeStore) GetPackage(_ context.Context, idOrCode string) (*store.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.packages[idOrCode]; ok {
		cp := *p
		return &cp, nil
	}
	for _, p := range f.packages {
		if fmt.Sprint(p.ID) == idOrCode {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListPackages(_ context.Context, limit, offset int) ([]*store.Package, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*store.Package, 0, len(f.packages))
	for _, p := range f.packages {
		cp := *p
		all = append(all, &cp)
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *fakeStore) ListAllPackages(_ context.Context) ([]*store.Package, error) {
	pkgs, _, err := f.ListPackages(context.Background(), 1<<30, 0)
	return pkgs, err
}

func (f *fakeStore) UpdatePackage(_ context.Context, idOrCode string, upd store.PackageUpdate) (*store.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[idOrCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Keyword != nil {
		p.Keyword = *upd.Keyword
	}
	if upd.Content != nil {
		p.Content = *upd.Content
	}
	if upd.Quota != nil {
		p.Quota = *upd.Quota
	}
	if upd.ExpiresAt != nil {
		p.ExpiresAt = *upd.ExpiresAt
	}
	if upd.RulesEnabled != nil {
		p.RulesEnabled = *upd.RulesEnabled
	}
	if upd.RequireNickname != nil {
		p.RequireNickname = *upd.RequireNickname
	}
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (f *fakeStore) DeletePackage(_ context.Context, idOrCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[idOrCode]
	if !ok {
		return store.ErrNotFound
	}
	delete(f.rules, p.ID)
	delete(f.events, p.ID)
	delete(f.packages, idOrCode)
	return nil
}

func (f *fakeStore) ReconcileUnlockCounts(_ context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) ListRules(_ context.Context, packageID int64) ([]rules.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rules.Rule(nil), f.rules[packageID]...), nil
}

func (f *fakeStore) ReplaceRules(_ context.Context, packageID int64, rs []rules.Rule) ([]rules.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]rules.Rule, len(rs))
	for i, r := range rs {
		r.ID = int64(i + 1)
		r.Keywords = rules.NormalizeKeywords(r.Keywords)
		stored[i] = r
	}
	f.rules[packageID] = stored
	return append([]rules.Rule(nil), stored...), nil
}

func (f *fakeStore) InsertUnlockEvent(_ context.Context, ev *store.UnlockEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = int64(len(f.events[ev.PackageID]) + 1)
	ev.CreatedAt = time.Now()
	f.events[ev.PackageID] = append(f.events[ev.PackageID], ev)
	return nil
}

func (f *fakeStore) CountEventsByRule(_ context.Context, _, _ int64) (int64, error) { return 0, nil }

func (f *fakeStore) CountEventsByEmailSince(_ context.Context, _ int64, _ string, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) FindEventByEmail(_ context.Context, _ int64, _ string) (*store.UnlockEvent, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListEventsByPackage(_ context.Context, packageID int64, limit, offset int) ([]*store.UnlockEvent, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.events[packageID]
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// fakeCache records published invalidations.
type fakeCache struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeCache) GetSnapshot(context.Context, string) (*store.PackageSnapshot, error) {
	return nil, store.ErrNotFound
}
func (f *fakeCache) SetSnapshot(context.Context, *store.PackageSnapshot, time.Duration) error {
	return nil
}
func (f *fakeCache) DeleteSnapshot(context.Context, string) error { return nil }
func (f *fakeCache) PublishInvalidation(_ context.Context, shortCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, shortCode)
	return nil
}
func (f *fakeCache) SubscribeInvalidations(context.Context, func(string)) error { return nil }
func (f *fakeCache) HealthCheck(context.Context) error                          { return nil }
func (f *fakeCache) Close() error                                               { return nil }

func (f *fakeCache) publishedCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func newTestAPI(t *testing.T) (*API, *fakeStore, *fakeCache) {
	t.Helper()
	fs := newFakeStore()
	fc := &fakeCache{}
	api := NewAPIWithConfig(fs, fs, fs, fc, "", true)
	return api, fs, fc
}

func doJSON(t *testing.T, api *API, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func TestCreatePackage(t *testing.T) {
	t.Parallel()

	t.Run("happy path returns 201 and publishes invalidation", func(t *testing.T) {
		api, _, fc := newTestAPI(t)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
			ShortCode: "summer-launch",
			Name:      "Summer Launch",
			Keyword:   "SECRET2025",
			Content:   "https://example.com/download",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var resp PackageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "summer-launch", resp.ShortCode)
		assert.Equal(t, "Summer Launch", resp.Name)
		assert.NotZero(t, resp.ID, "server must generate ID")
		assert.False(t, resp.CreatedAt.IsZero(), "server must generate CreatedAt")

		require.Eventually(t, func() bool {
			codes := fc.publishedCodes()
			return len(codes) == 1 && codes[0] == "summer-launch"
		}, 2*time.Second, 20*time.Millisecond, "invalidation must be published")
	})

	t.Run("short code is lowercased and trimmed", func(t *testing.T) {
		api, _, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
			ShortCode: "  My-Launch  ",
			Name:      "X",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var resp PackageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "my-launch", resp.ShortCode)
	})

	t.Run("invalid short code returns 400", func(t *testing.T) {
		api, _, _ := newTestAPI(t)

		for _, code := range []string{"", "ab", "has space", "under_score", strings.Repeat("x", 256)} {
			rr := doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
				ShortCode: code,
				Name:      "X",
			})
			assert.Equal(t, http.StatusBadRequest, rr.Code, "short code %q must be rejected", code)
		}
	})

	t.Run("duplicate short code returns 409", func(t *testing.T) {
		api, _, _ := newTestAPI(t)

		payload := CreatePackageRequest{ShortCode: "dup-code", Name: "First"}
		require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", payload).Code)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/packages", payload)
		require.Equal(t, http.StatusConflict, rr.Code)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
		assert.Equal(t, "ERR_CONFLICT", errResp.Code)
	})

	t.Run("initial rule set is installed and normalized", func(t *testing.T) {
		api, fs, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
			ShortCode:    "ruled",
			Name:         "Ruled",
			RulesEnabled: true,
			Rules: []RuleRequest{
				{Keywords: []string{"Alpha", "BETA"}, MatchMode: "and"},
			},
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var resp PackageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Rules, 1)
		assert.Equal(t, []string{"alpha", "beta"}, resp.Rules[0].Keywords)
		assert.Equal(t, "AND", resp.Rules[0].MatchMode)

		stored, err := fs.ListRules(context.Background(), resp.ID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
	})

	t.Run("rule with unknown match mode returns 400", func(t *testing.T) {
		api, _, _ := newTestAPI(t)

		rr := doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
			ShortCode: "bad-mode",
			Name:      "X",
			Rules:     []RuleRequest{{Keywords: []string{"a"}, MatchMode: "FUZZY"}},
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed json returns 400", func(t *testing.T) {
		api, _, _ := newTestAPI(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/packages", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetPackage(t *testing.T) {
	t.Parallel()

	api, _, _ := newTestAPI(t)
	require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
		ShortCode: "fetch-me",
		Name:      "Fetch Me",
	}).Code)

	t.Run("by short code", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodGet, "/api/v1/packages/fetch-me", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp PackageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "fetch-me", resp.ShortCode)
	})

	t.Run("unknown returns 404", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodGet, "/api/v1/packages/nope", nil)
		require.Equal(t, http.StatusNotFound, rr.Code)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
		assert.Equal(t, "ERR_NOT_FOUND", errResp.Code)
	})
}

func TestUpdatePackage(t *testing.T) {
	t.Parallel()

	quota := 100
	api, fs, _ := newTestAPI(t)
	require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
		ShortCode: "patch-me",
		Name:      "Before",
		Quota:     &quota,
	}).Code)

	t.Run("partial update touches only provided fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/packages/patch-me",
			strings.NewReader(`{"name": "After"}`))
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		p, err := fs.GetPackage(context.Background(), "patch-me")
		require.NoError(t, err)
		assert.Equal(t, "After", p.Name)
		require.NotNil(t, p.Quota, "quota must be untouched by a payload that omits it")
		assert.Equal(t, 100, *p.Quota)
	})

	t.Run("explicit null clears the quota", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/packages/patch-me",
			strings.NewReader(`{"quota": null}`))
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		p, err := fs.GetPackage(context.Background(), "patch-me")
		require.NoError(t, err)
		assert.Nil(t, p.Quota, "explicit null must clear the quota")
	})

	t.Run("negative quota returns 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/packages/patch-me",
			strings.NewReader(`{"quota": -1}`))
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown package returns 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/packages/ghost",
			strings.NewReader(`{"name": "X"}`))
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestDeletePackage(t *testing.T) {
	t.Parallel()

	api, _, _ := newTestAPI(t)
	require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
		ShortCode: "doomed",
		Name:      "Doomed",
	}).Code)

	rr := doJSON(t, api, http.MethodDelete, "/api/v1/packages/doomed", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doJSON(t, api, http.MethodGet, "/api/v1/packages/doomed", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListPackages(t *testing.T) {
	t.Parallel()

	api, _, _ := newTestAPI(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
			ShortCode: fmt.Sprintf("pkg-%d", i),
			Name:      fmt.Sprintf("Package %d", i),
		}).Code)
	}

	t.Run("returns pagination metadata", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodGet, "/api/v1/packages?page=1&page_size=2", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp PaginatedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.Pagination.TotalItems)
		assert.Equal(t, 2, resp.Pagination.TotalPages)
		assert.Equal(t, 2, resp.Pagination.PageSize)
	})

	t.Run("malformed page param returns 400", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodGet, "/api/v1/packages?page=banana", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("out-of-bounds params are clamped", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodGet, "/api/v1/packages?page=-5&page_size=9999", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp PaginatedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Pagination.CurrentPage)
		assert.Equal(t, 100, resp.Pagination.PageSize)
	})
}

func TestReplaceRules(t *testing.T) {
	t.Parallel()

	api, _, fc := newTestAPI(t)
	require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
		ShortCode:    "ruleful",
		Name:         "Ruleful",
		RulesEnabled: true,
	}).Code)

	t.Run("replaces the whole set", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodPut, "/api/v1/packages/ruleful/rules", ReplaceRulesRequest{
			Rules: []RuleRequest{
				{Name: "vip", Keywords: []string{"gold", "member"}, MatchMode: "AND"},
				{Name: "open", Keywords: []string{"hello"}, MatchMode: "OR"},
			},
		})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(t, api, http.MethodPut, "/api/v1/packages/ruleful/rules", ReplaceRulesRequest{
			Rules: []RuleRequest{
				{Name: "only", Keywords: []string{"solo"}, MatchMode: "ORDER"},
			},
		})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Rules []RuleResponse `json:"rules"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Rules, 1, "PUT must replace, not append")
		assert.Equal(t, "only", resp.Rules[0].Name)

		require.Eventually(t, func() bool {
			return len(fc.publishedCodes()) >= 2
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("empty set clears the rules", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodPut, "/api/v1/packages/ruleful/rules", ReplaceRulesRequest{})
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(t, api, http.MethodGet, "/api/v1/packages/ruleful/rules", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Rules []RuleResponse `json:"rules"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Empty(t, resp.Rules)
	})

	t.Run("invalid match mode returns 400", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodPut, "/api/v1/packages/ruleful/rules", ReplaceRulesRequest{
			Rules: []RuleRequest{{Keywords: []string{"x"}, MatchMode: "MAYBE"}},
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown package returns 404", func(t *testing.T) {
		rr := doJSON(t, api, http.MethodPut, "/api/v1/packages/ghost/rules", ReplaceRulesRequest{})
		require.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	api, fs, _ := newTestAPI(t)
	require.Equal(t, http.StatusCreated, doJSON(t, api, http.MethodPost, "/api/v1/packages", CreatePackageRequest{
		ShortCode: "evented",
		Name:      "Evented",
	}).Code)

	p, err := fs.GetPackage(context.Background(), "evented")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, fs.InsertUnlockEvent(context.Background(), &store.UnlockEvent{
			PackageID: p.ID,
			Email:     fmt.Sprintf("visitor%d@example.com", i),
		}))
	}

	rr := doJSON(t, api, http.MethodGet, "/api/v1/packages/evented/events?page_size=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp PaginatedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Pagination.TotalItems)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	const apiKey = "super-secret-key"
	sum := sha256.Sum256([]byte(apiKey))
	hash := hex.EncodeToString(sum[:])

	fs := newFakeStore()
	api := NewAPIWithConfig(fs, fs, fs, &fakeCache{}, hash, false)

	listReq := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("missing key returns 401", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, listReq("").Code)
	})

	t.Run("wrong key returns 401", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, listReq("wrong-key").Code)
	})

	t.Run("valid key passes", func(t *testing.T) {
		require.Equal(t, http.StatusOK, listReq(apiKey).Code)
	})

	t.Run("health endpoint is public", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	})
}

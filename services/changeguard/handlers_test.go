// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeguard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/config"
	"github.com/AleutianAI/changeguard/services/changeguard/conflict"
	"github.com/AleutianAI/changeguard/services/changeguard/events"
	"github.com/AleutianAI/changeguard/services/changeguard/journal"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

const (
	headerOriginal = `export function Header({ title }) {
  return <h1>{title}</h1>;
}
`
	headerProposed = `export function Header({ title }) {
  return <h2>{title}</h2>;
}
`
	footerOriginal = `export function Footer() {
  return <p>ok</p>;
}
`
	footerBroken = `export function Footer() {
  return <p>{missingHelper()}</p>;
}
`
)

func setupTestRouter(t *testing.T, opts ...ServiceOption) (*gin.Engine, *Service) {
	t.Helper()
	svc, err := NewService(DefaultServiceConfig(), opts...)
	require.NoError(t, err)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// putUnit registers a unit named like the component it declares, so
// "header" is registered as Header.
func putUnit(t *testing.T, router http.Handler, id, source string, dependents ...string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPut, "/v1/changeguard/units/"+id,
		PutUnitRequest{Name: strings.ToUpper(id[:1]) + id[1:], Source: source, Dependents: dependents})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, w.Code, w.Body.String())
}

func strptr(s string) *string { return &s }

// =============================================================================
// Unit Registry
// =============================================================================

func TestHandlers_PutAndGetUnit(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, http.MethodPut, "/v1/changeguard/units/header",
		PutUnitRequest{Source: headerOriginal, Dependents: []string{"page"}})
	assert.Equal(t, http.StatusCreated, w.Code)
	created := decode[PutUnitResponse](t, w)
	assert.True(t, created.Created)
	assert.Equal(t, "header", created.Unit.Name)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodPut, "/v1/changeguard/units/header",
		PutUnitRequest{Name: "Header", Source: headerOriginal})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[PutUnitResponse](t, w).Created)

	w = doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header", nil)
	require.Equal(t, http.StatusOK, w.Code)
	unit := decode[Unit](t, w)
	assert.Equal(t, "Header", unit.Name)
	assert.Equal(t, headerOriginal, unit.Source)
	assert.Empty(t, unit.Dependents)
	assert.Equal(t, 0, unit.BackupDepth)

	t.Run("unknown unit", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/changeguard/units/ghost", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "UNIT_NOT_FOUND", decode[ErrorResponse](t, w).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPut, "/v1/changeguard/units/header", "{")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandlers_RequestIDEcho(t *testing.T) {
	router, _ := setupTestRouter(t)
	req, _ := http.NewRequest(http.MethodGet, "/v1/changeguard/units/ghost", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

// =============================================================================
// Apply
// =============================================================================

func TestHandlers_Apply(t *testing.T) {
	t.Run("success commits the new source", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		putUnit(t, router, "header", headerOriginal)

		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/apply",
			ApplyRequest{UnitID: "header", Proposed: strptr(headerProposed)})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[ApplyResponse](t, w)
		assert.True(t, resp.Committed)
		assert.True(t, resp.Result.Success)
		assert.Contains(t, resp.Result.Diff, "+  return <h2>{title}</h2>;")

		w = doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header", nil)
		unit := decode[Unit](t, w)
		assert.Equal(t, headerProposed, unit.Source)
		assert.Equal(t, 1, unit.BackupDepth)
	})

	t.Run("rejected change leaves the source alone", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		putUnit(t, router, "footer", footerOriginal)

		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/apply",
			ApplyRequest{UnitID: "footer", Proposed: strptr(footerBroken)})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decode[ApplyResponse](t, w)
		assert.False(t, resp.Committed)
		assert.Equal(t, change.KindSandbox, resp.Result.Kind)

		unit := decode[Unit](t, doJSON(t, router, http.MethodGet, "/v1/changeguard/units/footer", nil))
		assert.Equal(t, footerOriginal, unit.Source)
	})

	t.Run("unknown unit", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/apply",
			ApplyRequest{UnitID: "ghost", Proposed: strptr(headerProposed)})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, change.KindNotFound, decode[ApplyResponse](t, w).Result.Kind)
	})

	t.Run("missing proposed body", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		putUnit(t, router, "header", headerOriginal)
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/apply", `{"unit_id":"header"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, change.KindInvalidRequest, decode[ApplyResponse](t, w).Result.Kind)
	})

	t.Run("missing unit id", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/apply", `{"proposed":"x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	})
}

// =============================================================================
// Batch
// =============================================================================

func TestHandlers_Batch(t *testing.T) {
	t.Run("non-transactional commits the successful member", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		putUnit(t, router, "header", headerOriginal)
		putUnit(t, router, "footer", footerOriginal)

		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/batch", BatchRequest{
			Changes: []ApplyRequest{
				{UnitID: "header", Proposed: strptr(headerProposed)},
				{UnitID: "footer", Proposed: strptr(footerBroken)},
			},
		})
		assert.Equal(t, http.StatusMultiStatus, w.Code)
		resp := decode[BatchResponse](t, w)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "header", resp.Results[0].UnitID)
		assert.Equal(t, 1, resp.Applied)
		assert.Equal(t, 1, resp.Failed)

		unit := decode[Unit](t, doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header", nil))
		assert.Equal(t, headerProposed, unit.Source)
	})

	t.Run("transactional failure commits nothing", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		putUnit(t, router, "header", headerOriginal)
		putUnit(t, router, "footer", footerOriginal)

		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/batch", BatchRequest{
			Transactional: true,
			Changes: []ApplyRequest{
				{UnitID: "header", Proposed: strptr(headerProposed)},
				{UnitID: "footer", Proposed: strptr(footerBroken)},
			},
		})
		assert.Equal(t, http.StatusMultiStatus, w.Code)
		resp := decode[BatchResponse](t, w)
		assert.True(t, resp.Transactional)
		assert.Equal(t, 0, resp.Applied)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, change.KindRolledBack, resp.Results[0].Kind)

		unit := decode[Unit](t, doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header", nil))
		assert.Equal(t, headerOriginal, unit.Source)
	})

	t.Run("members after a failure are unreported", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		putUnit(t, router, "header", headerOriginal)
		putUnit(t, router, "footer", footerOriginal)
		putUnit(t, router, "aside", "export function Aside() {\n  return <i />;\n}\n")

		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/batch", BatchRequest{
			Transactional: true,
			Changes: []ApplyRequest{
				{UnitID: "header", Proposed: strptr(headerProposed)},
				{UnitID: "footer", Proposed: strptr(footerBroken)},
				{UnitID: "aside", Proposed: strptr("export function Aside() {\n  return <b />;\n}\n")},
			},
		})
		resp := decode[BatchResponse](t, w)
		assert.Len(t, resp.Results, 2)
		assert.Equal(t, []string{"aside"}, resp.Unreported)
	})

	t.Run("duplicate unit ids", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/batch", BatchRequest{
			Changes: []ApplyRequest{
				{UnitID: "header", Proposed: strptr(headerProposed)},
				{UnitID: "header", Proposed: strptr(headerOriginal)},
			},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "DUPLICATE_UNIT", decode[ErrorResponse](t, w).Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/batch", `{"changes":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// Rollback
// =============================================================================

func TestHandlers_Rollback(t *testing.T) {
	router, _ := setupTestRouter(t)
	putUnit(t, router, "header", headerOriginal)

	w := doJSON(t, router, http.MethodPost, "/v1/changeguard/units/header/rollback", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NO_BACKUP", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/changeguard/apply",
		ApplyRequest{UnitID: "header", Proposed: strptr(headerProposed)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/v1/changeguard/units/header/rollback", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RollbackResponse](t, w)
	assert.Equal(t, headerOriginal, resp.Source)
	assert.Equal(t, 0, resp.Remaining)

	unit := decode[Unit](t, doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header", nil))
	assert.Equal(t, headerOriginal, unit.Source)

	t.Run("unknown unit", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/units/ghost/rollback", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// =============================================================================
// Conflicts
// =============================================================================

func TestHandlers_Conflicts(t *testing.T) {
	router, svc := setupTestRouter(t)

	overlapping := ConflictsRequest{Changes: []conflict.CodeChange{
		{ID: "c1", FilePath: "a.tsx", StartLine: 10, EndLine: 12, OriginalCode: "x\n", ModifiedCode: "alpha beta gamma\n"},
		{ID: "c2", FilePath: "a.tsx", StartLine: 11, EndLine: 13, OriginalCode: "y\n", ModifiedCode: "zzz qqq\n"},
	}}

	w := doJSON(t, router, http.MethodPost, "/v1/changeguard/conflicts", overlapping)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[ConflictsResponse](t, w).Report
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, conflict.KindOverlapping, report.Conflicts[0].Kind)
	assert.Equal(t, conflict.SeverityCritical, report.Conflicts[0].Severity)
	assert.Len(t, report.Unresolved, 1)

	t.Run("invalid edit", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/conflicts", ConflictsRequest{
			Changes: []conflict.CodeChange{{FilePath: "a.tsx", StartLine: 5, EndLine: 2}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_CHANGE", decode[ErrorResponse](t, w).Code)
	})

	adjacent := ConflictsRequest{Changes: []conflict.CodeChange{
		{ID: "c1", FilePath: "b.tsx", StartLine: 1, EndLine: 1, OriginalCode: "a\n", ModifiedCode: "A\n"},
		{ID: "c2", FilePath: "b.tsx", StartLine: 4, EndLine: 4, OriginalCode: "d\n", ModifiedCode: "D\n"},
	}}

	t.Run("registered unit supplies the replay base", func(t *testing.T) {
		putUnit(t, router, "b.tsx", "a\nb\nc\nd\n")
		report := decode[ConflictsResponse](t, doJSON(t, router, http.MethodPost, "/v1/changeguard/conflicts", adjacent)).Report
		require.Len(t, report.AutoResolved, 1)
		assert.Equal(t, conflict.StrategySequential, report.AutoResolved[0].Resolution.Strategy)
		assert.Equal(t, "A\nb\nc\nD\n", report.AutoResolved[0].Resolution.Content)
	})

	t.Run("reloaded thresholds apply to later requests", func(t *testing.T) {
		before := decode[ConflictsResponse](t, doJSON(t, router, http.MethodPost, "/v1/changeguard/conflicts", adjacent)).Report
		assert.Len(t, before.Conflicts, 1)

		cfg := conflict.DefaultConfig()
		cfg.AdjacentGap = 0
		svc.SetConflictConfig(cfg)

		after := decode[ConflictsResponse](t, doJSON(t, router, http.MethodPost, "/v1/changeguard/conflicts", adjacent)).Report
		assert.Empty(t, after.Conflicts)
		assert.Len(t, after.NonConflicting, 2)
	})
}

// =============================================================================
// History and Health
// =============================================================================

func TestHandlers_History(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		w := doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header/history", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "JOURNAL_DISABLED", decode[ErrorResponse](t, w).Code)
	})

	t.Run("records pipeline events", func(t *testing.T) {
		j, err := journal.OpenInMemory()
		require.NoError(t, err)
		defer j.Close()

		router, _ := setupTestRouter(t, WithJournal(j))
		putUnit(t, router, "header", headerOriginal)
		w := doJSON(t, router, http.MethodPost, "/v1/changeguard/apply",
			ApplyRequest{UnitID: "header", Proposed: strptr(headerProposed)})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header/history", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[HistoryResponse](t, w)
		require.NotEmpty(t, resp.Entries)
		assert.Equal(t, events.TypeValidationStarted, resp.Entries[0].Type)
		assert.Equal(t, events.TypeApplicationCompleted, resp.Entries[len(resp.Entries)-1].Type)

		w = doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header/history?limit=1", nil)
		limited := decode[HistoryResponse](t, w)
		require.Len(t, limited.Entries, 1)
		assert.Equal(t, events.TypeApplicationCompleted, limited.Entries[0].Type)
	})

	t.Run("invalid limit", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		w := doJSON(t, router, http.MethodGet, "/v1/changeguard/units/header/history?limit=-3", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_Health(t *testing.T) {
	router, _ := setupTestRouter(t)
	putUnit(t, router, "header", headerOriginal)

	w := doJSON(t, router, http.MethodGet, "/v1/changeguard/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 1, resp.Units)
	assert.False(t, resp.Journal)
}

// =============================================================================
// Router and Middleware
// =============================================================================

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:            ":0",
		MaxBodyBytes:    1 << 20,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	svc, err := NewService(DefaultServiceConfig())
	require.NoError(t, err)
	router := NewRouter(svc, testServerConfig())

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/changeguard/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	svc, err := NewService(DefaultServiceConfig())
	require.NoError(t, err)
	cfg := testServerConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 2
	router := NewRouter(svc, cfg)

	for i := 0; i < 2; i++ {
		w := doJSON(t, router, http.MethodGet, "/v1/changeguard/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doJSON(t, router, http.MethodGet, "/v1/changeguard/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)

	t.Run("metrics are not limited", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMaxBody(t *testing.T) {
	svc, err := NewService(DefaultServiceConfig())
	require.NoError(t, err)
	cfg := testServerConfig()
	cfg.MaxBodyBytes = 16
	router := NewRouter(svc, cfg)

	body := PutUnitRequest{Source: strings.Repeat("x", 64)}
	w := doJSON(t, router, http.MethodPut, "/v1/changeguard/units/big", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, svc.UnitCount())
}

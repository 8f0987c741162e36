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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/conflict"
)

// Handlers contains the HTTP handlers for changeguard.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandlePutUnit handles PUT /v1/changeguard/units/:id.
//
// Description:
//
//	Registers a unit or replaces its source, name and dependents.
//
// Response:
//
//	201 Created: PutUnitResponse for a new unit
//	200 OK: PutUnitResponse for a replaced unit
//	400 Bad Request: Invalid body
func (h *Handlers) HandlePutUnit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePutUnit")

	var req PutUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	unit, created, err := h.svc.PutUnit(c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_UNIT"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	logger.Info("Unit registered", "unit_id", unit.ID, "created", created)
	c.JSON(status, PutUnitResponse{Unit: unit, Created: created})
}

// HandleGetUnit handles GET /v1/changeguard/units/:id.
func (h *Handlers) HandleGetUnit(c *gin.Context) {
	getOrCreateRequestID(c)

	unit, err := h.svc.GetUnit(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "UNIT_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, unit)
}

// HandleApply handles POST /v1/changeguard/apply.
//
// Description:
//
//	Runs one change through validation, impact analysis and the sandbox.
//	On success the unit's stored source is replaced.
//
// Request Body:
//
//	ApplyRequest
//
// Response:
//
//	200 OK: ApplyResponse with a successful result
//	404 Not Found: ApplyResponse, unit not registered
//	422 Unprocessable Entity: ApplyResponse, change rejected
//	400 Bad Request: Invalid body
func (h *Handlers) HandleApply(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleApply")

	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	res, committed := h.svc.Apply(c.Request.Context(), req.toChange())
	logger.Info("Change processed",
		"unit_id", req.UnitID,
		"success", res.Success,
		"kind", res.Kind,
		"committed", committed,
	)
	c.JSON(statusForResult(res), ApplyResponse{Result: res, Committed: committed})
}

// HandleBatch handles POST /v1/changeguard/batch.
//
// Description:
//
//	Applies several changes in request order. Transactional batches are
//	all-or-nothing; otherwise every successful member is committed.
//
// Response:
//
//	200 OK: BatchResponse with no failures
//	207 Multi-Status: BatchResponse with at least one failure
//	400 Bad Request: Invalid body or duplicate unit ids
func (h *Handlers) HandleBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBatch")

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	reqs := make([]change.ChangeRequest, len(req.Changes))
	for i, r := range req.Changes {
		reqs[i] = r.toChange()
	}

	resp, err := h.svc.ApplyBatch(c.Request.Context(), reqs, req.Transactional)
	if err != nil {
		code := "INVALID_BATCH"
		if errors.Is(err, ErrDuplicateUnit) {
			code = "DUPLICATE_UNIT"
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Batch processed",
		"size", len(reqs),
		"applied", resp.Applied,
		"failed", resp.Failed,
		"transactional", req.Transactional,
	)
	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}

// HandleRollback handles POST /v1/changeguard/units/:id/rollback.
//
// Response:
//
//	200 OK: RollbackResponse
//	404 Not Found: Unit not registered
//	409 Conflict: No backup to restore
func (h *Handlers) HandleRollback(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRollback")
	id := c.Param("id")

	resp, err := h.svc.Rollback(c.Request.Context(), id)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "ROLLBACK_FAILED"
		if errors.Is(err, ErrUnitNotFound) {
			statusCode = http.StatusNotFound
			errCode = "UNIT_NOT_FOUND"
		} else if errors.Is(err, ErrNoBackup) {
			statusCode = http.StatusConflict
			errCode = "NO_BACKUP"
		}
		logger.Warn("Rollback failed", "unit_id", id, "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Unit rolled back", "unit_id", id, "remaining", resp.Remaining)
	c.JSON(http.StatusOK, resp)
}

// HandleConflicts handles POST /v1/changeguard/conflicts.
//
// Description:
//
//	Detects conflicts between the submitted edits and auto-resolves those
//	within the configured severity ceiling.
//
// Response:
//
//	200 OK: ConflictsResponse
//	400 Bad Request: Invalid body or malformed edit
func (h *Handlers) HandleConflicts(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConflicts")

	var req ConflictsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	report, err := h.svc.DetectConflicts(c.Request.Context(), req.Changes)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "DETECTION_FAILED"
		if errors.Is(err, conflict.ErrInvalidChange) {
			statusCode = http.StatusBadRequest
			errCode = "INVALID_CHANGE"
		}
		logger.Warn("Conflict detection failed", "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}

	logger.Info("Conflicts detected",
		"changes", report.Stats.TotalChanges,
		"conflicts", report.Stats.Conflicts,
		"auto_resolved", report.Stats.AutoResolved,
	)
	c.JSON(http.StatusOK, ConflictsResponse{Report: report})
}

// HandleHistory handles GET /v1/changeguard/units/:id/history.
//
// Query Parameters:
//
//	limit: Most recent entries to return (optional, default 50, max 500)
//
// Response:
//
//	200 OK: HistoryResponse, oldest entry first
//	400 Bad Request: Invalid limit
//	503 Service Unavailable: Journal disabled
func (h *Handlers) HandleHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleHistory")
	id := c.Param("id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	entries, err := h.svc.History(c.Request.Context(), id, limit)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "HISTORY_FAILED"
		if errors.Is(err, ErrJournalDisabled) {
			statusCode = http.StatusServiceUnavailable
			errCode = "JOURNAL_DISABLED"
		}
		logger.Warn("History query failed", "unit_id", id, "error", err)
		c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{UnitID: id, Entries: entries})
}

// HandleHealth handles GET /v1/changeguard/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// statusForResult maps a change result to an HTTP status.
func statusForResult(res *change.ChangeResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case change.KindNotFound:
		return http.StatusNotFound
	case change.KindInvalidRequest:
		return http.StatusBadRequest
	case change.KindInternal:
		return http.StatusInternalServerError
	case change.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

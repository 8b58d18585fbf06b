package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/studyforge/studyforge/internal/pipeline"
	"github.com/studyforge/studyforge/internal/runtime"
	"github.com/studyforge/studyforge/internal/search"
	"github.com/studyforge/studyforge/internal/store"
)

// RunsHandler exposes persisted runs, live status, and section search.
type RunsHandler struct {
	Store  *store.Store
	Orch   *pipeline.Orchestrator
	Search *search.Index
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("", h.list)
	g.GET("/search", h.searchRuns)
	g.GET("/:run_id", h.get)
	g.GET("/:run_id/status", h.status)
}

// list returns the caller's runs, newest first, without bundles.
func (h *RunsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	limit := 0
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := h.Store.ListRuns(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.RunRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

// get returns one run including its study bundle.
func (h *RunsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	rec, err := h.Store.GetRun(c.Request().Context(), c.Param("run_id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// status reports live progress for an in-flight run, falling back to the
// persisted record once the run has left the orchestrator.
func (h *RunsHandler) status(c echo.Context) error {
	userID := c.Get("user_id").(string)
	runID := c.Param("run_id")
	if st, ok := h.Orch.Status(runID); ok {
		return c.JSON(http.StatusOK, RunStatusResponse{
			RunID:       st.RunID,
			State:       st.State,
			Progress:    st.Progress,
			Message:     st.Message,
			LastUpdated: st.LastUpdated,
		})
	}
	rec, err := h.Store.GetRun(c.Request().Context(), runID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := RunStatusResponse{RunID: rec.ID, State: pipeline.StateDone, Progress: 1.0}
	if rec.FinishedAt != nil {
		resp.LastUpdated = *rec.FinishedAt
	} else {
		resp.LastUpdated = rec.CreatedAt
	}
	switch rec.Status {
	case store.RunStatusFailed:
		resp.State = pipeline.StateFailed
		resp.Progress = 0.0
		resp.Message = rec.Error
	case store.RunStatusRunning:
		resp.State = pipeline.StateIdle
		resp.Progress = 0.0
	}
	return c.JSON(http.StatusOK, resp)
}

// searchRuns queries the in-memory section index.
func (h *RunsHandler) searchRuns(c echo.Context) error {
	if h.Search == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search disabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter required")
	}
	limit := 10
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	hits, err := h.Search.Query(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := SearchResponse{Query: q, Hits: make([]SearchHitResponse, 0, len(hits))}
	for _, hit := range hits {
		resp.Hits = append(resp.Hits, SearchHitResponse{
			RunID:  hit.RunID,
			Source: hit.Source,
			Title:  hit.Title,
			Score:  hit.Score,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

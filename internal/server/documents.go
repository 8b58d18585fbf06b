package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/studyforge/studyforge/config"
	"github.com/studyforge/studyforge/internal/extract"
	"github.com/studyforge/studyforge/internal/pipeline"
	"github.com/studyforge/studyforge/internal/runtime"
	"github.com/studyforge/studyforge/internal/search"
	"github.com/studyforge/studyforge/internal/store"
)

// DocumentsHandler accepts document submissions and launches pipeline runs.
type DocumentsHandler struct {
	Store   *store.Store
	Cache   *store.BundleCache
	Search  *search.Index
	Orch    *pipeline.Orchestrator
	Fetcher extract.Fetcher
	Cfg     *config.Config
	Logger  *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
}

// create accepts either a multipart upload (field "file") or a JSON body
// with a URL, then processes the document in the background. A cache hit
// on identical content and options short-circuits the model calls.
func (h *DocumentsHandler) create(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Get("user_id").(string)

	doc, opts, err := h.parseSubmission(c)
	if err != nil {
		return err
	}
	if len(doc.Data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty document")
	}

	cacheKey := h.Cache.Key(string(doc.Data), opts)
	if cached, err := h.Cache.Get(ctx, cacheKey); err != nil {
		h.Logger.Printf("cache lookup failed: %v", err)
	} else if cached != nil {
		runID, err := h.Store.CreateRun(ctx, userID, doc.Name)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if err := h.Store.FinishRun(ctx, runID, store.RunStatusSucceeded, "", "", cached); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.indexBundle(runID, doc.Name, cached)
		return c.JSON(http.StatusOK, RunAccepted{RunID: runID, Status: store.RunStatusSucceeded, Cached: true})
	}

	runID, err := h.Store.CreateRun(ctx, userID, doc.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	go h.process(runID, cacheKey, doc, opts)

	return c.JSON(http.StatusAccepted, RunAccepted{RunID: runID, Status: store.RunStatusRunning})
}

// process runs the pipeline detached from the request and persists whatever
// it produced, partial bundles included.
func (h *DocumentsHandler) process(runID, cacheKey string, doc pipeline.Document, opts pipeline.Options) {
	timeout := h.Cfg.General.MaxProcessingTime
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	bundle, runErr := h.Orch.RunWithID(ctx, runID, doc, opts)

	status := store.RunStatusSucceeded
	failedStage, errMsg := "", ""
	if runErr != nil {
		status = store.RunStatusFailed
		failedStage = pipeline.FailedStage(runErr)
		errMsg = runErr.Error()
	}
	if err := h.Store.FinishRun(ctx, runID, status, failedStage, errMsg, bundle); err != nil {
		h.Logger.Printf("finish run %s: %v", runID, err)
	}
	if runErr != nil {
		return
	}
	if err := h.Cache.Put(ctx, cacheKey, bundle); err != nil {
		h.Logger.Printf("cache put for run %s: %v", runID, err)
	}
	h.indexBundle(runID, doc.Name, bundle)
}

func (h *DocumentsHandler) indexBundle(runID, source string, bundle *pipeline.StudyBundle) {
	if h.Search == nil || bundle == nil {
		return
	}
	if err := h.Search.IndexBundle(runID, source, bundle); err != nil {
		h.Logger.Printf("index run %s: %v", runID, err)
	}
}

func (h *DocumentsHandler) parseSubmission(c echo.Context) (pipeline.Document, pipeline.Options, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		return h.parseUpload(c)
	}

	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadRequest, "file upload or url required")
	}
	if !h.Cfg.Extract.FetchEnabled {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadRequest, "url fetching disabled")
	}
	doc, err := h.Fetcher.Fetch(c.Request().Context(), req.URL)
	if err != nil {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadGateway, "fetch url: "+err.Error())
	}
	opts := pipeline.Options{
		QuizQuestions:      req.QuizQuestions,
		FlashcardsPerTopic: req.FlashcardsPerTopic,
	}
	return doc, opts, nil
}

func (h *DocumentsHandler) parseUpload(c echo.Context) (pipeline.Document, pipeline.Options, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadRequest, "file field required")
	}
	src, err := fh.Open()
	if err != nil {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	maxBytes := h.Cfg.Server.MaxUploadMB << 20
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	data, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if int64(len(data)) > maxBytes {
		return pipeline.Document{}, pipeline.Options{}, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload too large")
	}

	opts := pipeline.Options{
		QuizQuestions:      formInt(c, "quiz_questions"),
		FlashcardsPerTopic: formInt(c, "flashcards_per_topic"),
	}
	doc := pipeline.Document{
		Name:        fh.Filename,
		Data:        data,
		ContentType: fh.Header.Get("Content-Type"),
	}
	return doc, opts, nil
}

func formInt(c echo.Context, name string) int {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

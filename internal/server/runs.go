package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/normalize"
	"github.com/mohammad-safakhou/contentpipe/internal/review"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

const defaultListLimit = 50

type RunsHandler struct {
	server *Server
}

func (h *RunsHandler) Register(g *echo.Group, reviewerAuth echo.MiddlewareFunc) {
	g.POST("/runs", h.create)
	g.GET("/runs", h.list)
	g.GET("/runs/search", h.search)
	g.GET("/runs/:id", h.get)
	g.GET("/runs/:id/state", h.state)
	g.GET("/runs/:id/summary.md", h.summaryMarkdown)
	g.GET("/runs/:id/summary.html", h.summaryHTML)
	g.GET("/runs/:id/events", h.events)
	g.POST("/runs/:id/resume", h.resume)
	g.GET("/reviews", h.reviews)
	g.POST("/runs/:id/reviews/:stage", h.decide, reviewerAuth)
}

func (h *RunsHandler) runner() *workflow.Runner { return h.server.deps.Runner }

func (h *RunsHandler) create(c echo.Context) error {
	ctx, span := otel.Tracer("server").Start(c.Request().Context(), "Runs.Create")
	defer span.End()

	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	graph := req.Graph
	if graph == "" {
		graph = h.server.deps.DefaultGraph
	}
	if graph == "" {
		graph = config.GraphV1
	}
	if graph != config.GraphV1 && graph != config.GraphV2 {
		return echo.NewHTTPError(http.StatusBadRequest, "graph must be v1 or v2")
	}

	now := time.Now().UTC()
	run := runstore.Run{
		ID:                uuid.NewString(),
		Topic:             req.Topic,
		Graph:             graph,
		Status:            runstore.StatusRunning,
		IncludeNewsletter: req.IncludeNewsletter,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.String("run.graph", graph))
	if err := h.runner().Store().SaveRun(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	opts := workflow.StartOptions{
		RunID:             run.ID,
		Topic:             run.Topic,
		Graph:             graph,
		IncludeNewsletter: run.IncludeNewsletter,
	}
	h.server.background("run "+run.ID, func(ctx context.Context) error {
		_, err := h.runner().Start(ctx, opts)
		return err
	})
	h.server.logger.Info("run accepted", zap.String("run_id", run.ID), zap.String("topic", run.Topic), zap.String("graph", graph))
	return c.JSON(http.StatusAccepted, CreateRunResponse{RunID: run.ID, Status: run.Status})
}

func (h *RunsHandler) list(c echo.Context) error {
	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.runner().Store().ListRuns(c.Request().Context(), runstore.Status(c.QueryParam("status")), limit)
	if err != nil {
		return err
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	if h.server.deps.Archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "archive disabled")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	hits, err := h.server.deps.Archive.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *RunsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	run, err := h.runner().Store().GetRun(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	out := toRunResponse(run)
	if len(run.State) > 0 {
		out.State = run.State
	}
	reviews, err := h.runner().Store().ListReviews(ctx, "")
	if err != nil {
		return err
	}
	for _, r := range reviews {
		if r.RunID == run.ID {
			out.Reviews = append(out.Reviews, r)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) state(c echo.Context) error {
	res, err := h.runner().Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if c.QueryParam("raw") == "true" {
		return c.JSON(http.StatusOK, res.State)
	}
	return c.JSON(http.StatusOK, normalize.Project(res.State, normalize.DefaultOptions()))
}

func (h *RunsHandler) summaryMarkdown(c echo.Context) error {
	res, err := h.runner().Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/markdown; charset=utf-8")
	return c.String(http.StatusOK, normalize.Markdown(res.State))
}

func (h *RunsHandler) summaryHTML(c echo.Context) error {
	res, err := h.runner().Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	html, err := normalize.HTML(normalize.Markdown(res.State))
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

func (h *RunsHandler) resume(c echo.Context) error {
	ctx := c.Request().Context()
	run, err := h.runner().Store().GetRun(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if run.Graph != config.GraphV2 || run.Status.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, workflow.ErrNotResumable.Error())
	}
	h.resumeAsync(run.ID)
	return c.JSON(http.StatusAccepted, CreateRunResponse{RunID: run.ID, Status: runstore.StatusRunning})
}

func (h *RunsHandler) reviews(c echo.Context) error {
	status := review.Status(c.QueryParam("status"))
	switch status {
	case "", review.StatusPending, review.StatusApproved, review.StatusRejected:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown review status")
	}
	out, err := h.runner().Gate().List(c.Request().Context(), status)
	if err != nil {
		return err
	}
	if out == nil {
		out = []review.Request{}
	}
	return c.JSON(http.StatusOK, out)
}

// decide records a verdict and resumes the run in the background.
func (h *RunsHandler) decide(c echo.Context) error {
	ctx, span := otel.Tracer("server").Start(c.Request().Context(), "Reviews.Decide")
	defer span.End()

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reviewer, ok := SubjectFromContext(ctx)
	if !ok {
		reviewer = strings.TrimSpace(req.Reviewer)
		if reviewer == "" {
			reviewer = "anonymous"
		}
	}
	runID, stage := c.Param("id"), c.Param("stage")
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("review.stage", stage))

	decided, err := h.runner().Decide(ctx, runID, stage, review.Decision{
		Approved: req.Approved,
		Reviewer: reviewer,
		Feedback: req.Feedback,
	})
	if err != nil {
		if !errors.Is(err, review.ErrAlreadyDecided) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	h.server.logger.Info("review decided",
		zap.String("run_id", runID),
		zap.String("stage", stage),
		zap.String("status", string(decided.Status)),
		zap.String("reviewer", reviewer))
	h.resumeAsync(runID)
	return c.JSON(http.StatusOK, DecisionResponse{Review: decided, Resumed: true})
}

// maxResumeWaits bounds how often a resume waits for another execution of
// the same run to finish.
const maxResumeWaits = 5

// resumeAsync resumes runID in the background. When the run is still
// executing, for instance a Start that has just suspended at a gate, the
// resume waits for it to finish and tries again.
func (h *RunsHandler) resumeAsync(runID string) {
	h.server.background("resume "+runID, func(ctx context.Context) error {
		runner := h.runner()
		waited := false
		for i := 0; ; i++ {
			_, err := runner.Resume(ctx, runID)
			switch {
			case errors.Is(err, workflow.ErrRunBusy) && i < maxResumeWaits:
				waited = true
				select {
				case <-runner.Idle(runID):
				case <-ctx.Done():
					return ctx.Err()
				}
			case waited && errors.Is(err, workflow.ErrNotResumable):
				// the other execution already finished the run
				return nil
			default:
				return err
			}
		}
	})
}

func toRunResponse(r runstore.Run) RunResponse {
	return RunResponse{
		ID:                r.ID,
		Topic:             r.Topic,
		Graph:             r.Graph,
		Engine:            r.Engine,
		Status:            r.Status,
		IncludeNewsletter: r.IncludeNewsletter,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

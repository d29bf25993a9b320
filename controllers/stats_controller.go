package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-site/projectstats/middleware"
	"github.com/portfolio-site/projectstats/models"
	"github.com/portfolio-site/projectstats/store"
	"github.com/portfolio-site/projectstats/utils"
)

const batchFanOut = 8

// StatsController serves the per-project like/share/view counters.
type StatsController struct {
	store       store.StatsStore
	cache       *utils.TotalsCache
	batchMaxIDs int
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(st store.StatsStore, cache *utils.TotalsCache, batchMaxIDs int) *StatsController {
	if batchMaxIDs <= 0 {
		batchMaxIDs = 50
	}
	return &StatsController{store: st, cache: cache, batchMaxIDs: batchMaxIDs}
}

// StatsResponse is the counter triple of one project. Whether the caller liked the project is
// tracked by the browser, so UserHasLiked is always false here.
type StatsResponse struct {
	Likes        int64 `json:"likes"`
	Shares       int64 `json:"shares"`
	Views        int64 `json:"views"`
	UserHasLiked bool  `json:"userHasLiked"`
}

func toResponse(row models.ProjectStats) StatsResponse {
	return StatsResponse{Likes: row.Likes, Shares: row.Shares, Views: row.Views}
}

// Get dispatches the read operations: total=true, ids=<list> or a single id.
func (s *StatsController) Get(ctx *gin.Context) {
	if ctx.Query("clear_all") == "true" {
		utils.Sugar.Warnw("method not allowed", "method", ctx.Request.Method, "request_id", middleware.GetRequestID(ctx))
		utils.Error(ctx, http.StatusMethodNotAllowed, 40502, "Method not allowed")
		return
	}
	if ctx.Query("total") == "true" {
		s.getTotal(ctx)
		return
	}
	if ids, ok := ctx.GetQuery("ids"); ok {
		s.getBatch(ctx, ids)
		return
	}
	s.getOne(ctx)
}

func (s *StatsController) getOne(ctx *gin.Context) {
	id := ctx.Query("id")
	if !models.ValidProjectID(id) {
		utils.Sugar.Warnw("missing or invalid id for GET request", "request_id", middleware.GetRequestID(ctx))
		utils.Error(ctx, http.StatusBadRequest, 40001, "Missing or invalid id")
		return
	}

	row, err := s.store.Get(ctx.Request.Context(), id)
	if err != nil {
		s.storageError(ctx, "get", err, "id", id)
		return
	}
	utils.Success(ctx, toResponse(row))
}

func (s *StatsController) getTotal(ctx *gin.Context) {
	typ := ctx.Query("type")
	counter, ok := models.ParseTotalType(typ)
	if !ok {
		utils.Sugar.Warnw("invalid type for total count", "type", typ, "request_id", middleware.GetRequestID(ctx))
		utils.Error(ctx, http.StatusBadRequest, 40002, "Invalid type for total count. Must be 'likes', 'shares', or 'views'.")
		return
	}

	reqCtx := ctx.Request.Context()
	if total, hit := s.cache.Get(reqCtx, counter); hit {
		utils.Success(ctx, gin.H{"totalCount": total})
		return
	}

	gen, fillable := s.cache.Generation(reqCtx)
	total, err := s.store.Total(reqCtx, counter)
	if err != nil {
		s.storageError(ctx, "total", err, "type", typ)
		return
	}
	if fillable {
		s.cache.Set(reqCtx, counter, total, gen)
	}
	utils.Success(ctx, gin.H{"totalCount": total})
}

func (s *StatsController) getBatch(ctx *gin.Context, raw string) {
	ids := parseIDList(raw)
	if len(ids) == 0 || len(ids) > s.batchMaxIDs {
		utils.Error(ctx, http.StatusBadRequest, 40004, "ids must list between 1 and the allowed number of project ids")
		return
	}
	for _, id := range ids {
		if !models.ValidProjectID(id) {
			utils.Sugar.Warnw("invalid id in batch request", "request_id", middleware.GetRequestID(ctx))
			utils.Error(ctx, http.StatusBadRequest, 40001, "Missing or invalid id")
			return
		}
	}

	reqCtx := ctx.Request.Context()
	results := make([]StatsResponse, len(ids))
	var g errgroup.Group
	g.SetLimit(batchFanOut)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			row, err := s.store.Get(reqCtx, id)
			if err != nil {
				// One failed lookup falls back to zeros instead of failing the batch.
				utils.Sugar.Warnw("batch stats lookup failed", "id", id, "error", err,
					"request_id", middleware.GetRequestID(ctx))
				return nil
			}
			results[i] = toResponse(row)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]StatsResponse, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	utils.Success(ctx, gin.H{"stats": out})
}

// Increment adds one like, share or view to a project.
func (s *StatsController) Increment(ctx *gin.Context) {
	id := ctx.Query("id")
	if !models.ValidProjectID(id) {
		utils.Sugar.Warnw("missing or invalid id for POST request", "request_id", middleware.GetRequestID(ctx))
		utils.Error(ctx, http.StatusBadRequest, 40003, "Missing or invalid id for increment")
		return
	}
	typ := ctx.Query("type")
	counter, ok := models.ParseIncrementType(typ)
	if !ok {
		utils.Sugar.Warnw("invalid type for increment", "id", id, "type", typ, "request_id", middleware.GetRequestID(ctx))
		utils.Error(ctx, http.StatusBadRequest, 40002, "Invalid type for increment. Must be 'like', 'share', or 'view'.")
		return
	}

	row, err := s.store.Increment(ctx.Request.Context(), id, counter)
	if err != nil {
		s.storageError(ctx, "increment", err, "id", id, "type", typ)
		return
	}
	s.cache.Invalidate(ctx.Request.Context())

	utils.Sugar.Infow("incremented project stat", "id", id, "type", typ, "request_id", middleware.GetRequestID(ctx))
	utils.Success(ctx, toResponse(row))
}

// ClearAll zeroes every counter of every project. Authorization is enforced by middleware.
func (s *StatsController) ClearAll(ctx *gin.Context) {
	n, err := s.store.ResetAll(ctx.Request.Context())
	if err != nil {
		s.storageError(ctx, "clear_all", err)
		return
	}
	s.cache.Invalidate(ctx.Request.Context())

	utils.Sugar.Warnw("all project statistics cleared",
		"rows", n,
		"key", middleware.RequestSourceKey(ctx),
		"request_id", middleware.GetRequestID(ctx),
	)
	utils.Success(ctx, gin.H{
		"message":      "All project statistics cleared successfully.",
		"rowsAffected": n,
	})
}

// storageError logs err with its context and answers 500. Details stay in the server log.
func (s *StatsController) storageError(ctx *gin.Context, op string, err error, kv ...interface{}) {
	fields := append([]interface{}{"op", op, "error", err, "request_id", middleware.GetRequestID(ctx)}, kv...)
	if errors.Is(err, store.ErrNotConfigured) {
		utils.Sugar.Errorw("database url is not configured", fields...)
		utils.Error(ctx, http.StatusInternalServerError, 50002, "Server configuration error: database URL not set.")
		return
	}
	utils.Sugar.Errorw("database error in stats handler", fields...)
	utils.Error(ctx, http.StatusInternalServerError, 50000, "Server error")
}

// parseIDList splits a comma separated list, trimming blanks and dropping duplicates.
func parseIDList(raw string) []string {
	return utils.Unique(utils.SplitList(raw))
}

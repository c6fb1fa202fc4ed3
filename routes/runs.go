package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"pmc-rag-platform/middleware"
	"pmc-rag-platform/services"
	"pmc-rag-platform/utils"
)

func SetupRunRoutes(router *gin.Engine, store *services.RunStore, auth *middleware.AuthMiddleware) {
	runs := router.Group("/runs")
	runs.Use(auth.RequireAuth())
	{
		runs.GET("/:day", listRunsHandler(store))
		runs.GET("/:day/:run_id", getRunHandler(store))
		runs.GET("/:day/:run_id/:kind", getArtifactHandler(store))
	}
}

func listRunsHandler(store *services.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		day := c.Param("day")
		runs, err := store.ListRuns(day)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"day":   day,
			"runs":  runs,
			"count": len(runs),
		})
	}
}

func getRunHandler(store *services.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		desc, err := store.GetRun(c.Param("day"), c.Param("run_id"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, desc)
	}
}

func getArtifactHandler(store *services.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, art, err := store.ArtifactPath(c.Param("day"), c.Param("run_id"), c.Param("kind"))
		if err != nil {
			respondStoreError(c, err)
			return
		}

		if c.Query("download") == "true" {
			c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
		}
		c.Header("Content-Type", art.ContentType)
		c.File(path)
	}
}

// respondStoreError maps run store errors onto HTTP statuses. Unsafe
// paths are client errors, not server faults.
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidDay),
		errors.Is(err, services.ErrInvalidRunID),
		errors.Is(err, services.ErrUnsafePath):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrUnknownArtifact),
		errors.Is(err, services.ErrRunNotFound),
		errors.Is(err, services.ErrArtifactNotFound):
		utils.RespondWithNotFound(c, err.Error())
	default:
		utils.RespondWithInternalError(c, "Run store error", nil)
	}
}

package routes

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"media-archive-search/internal/logger"
	"media-archive-search/models"
	"media-archive-search/services"
	"media-archive-search/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SetupSearchRoutes registers the search API. Each endpoint maps to
// exactly one retrieval-engine mode; `format=text` runs the result
// formatter, the default JSON response is the raw hit set.
func SetupSearchRoutes(router *gin.Engine, search *services.SearchService) {
	api := router.Group("/api/search")

	api.GET("/text", func(c *gin.Context) {
		result, err := search.SearchText(c.Request.Context(), c.Query("q"), parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindText)
	})

	api.GET("/semantic", func(c *gin.Context) {
		result, err := search.SearchTextSemantic(c.Request.Context(), c.Query("q"), parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindTextSemantic)
	})

	api.GET("/video", func(c *gin.Context) {
		result, err := search.SearchTextToVideo(c.Request.Context(), c.Query("q"), parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindVideo)
	})

	api.POST("/image", func(c *gin.Context) {
		path, cleanup, ok := saveUpload(c)
		if !ok {
			return
		}
		defer cleanup()

		result, err := search.SearchImageToVideo(c.Request.Context(), path, parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindVideo)
	})

	api.POST("/image/exact", func(c *gin.Context) {
		path, cleanup, ok := saveUpload(c)
		if !ok {
			return
		}
		defer cleanup()

		result, err := search.SearchImageExact(c.Request.Context(), path, parseLimit(c))
		respondSearch(c, result, err, services.KindVideo)
	})

	api.GET("/emotion", func(c *gin.Context) {
		result, err := search.SearchEmotion(c.Request.Context(), c.Query("q"), c.Query("character"), parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindVideo)
	})

	api.GET("/character", func(c *gin.Context) {
		result, err := search.SearchCharacter(c.Request.Context(), c.Query("q"), parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindVideo)
	})

	api.GET("/objects", func(c *gin.Context) {
		result, err := search.SearchObjects(c.Request.Context(), c.Query("q"), parseFilters(c), parseLimit(c))
		respondSearch(c, result, err, services.KindVideo)
	})

	api.GET("/episodes", func(c *gin.Context) {
		f := parseFilters(c)
		var result *models.SearchResult
		var err error
		if c.Query("semantic") == "true" {
			result, err = search.SearchEpisodeSemantic(c.Request.Context(), c.Query("q"), f.Season, parseLimit(c))
		} else {
			result, err = search.SearchEpisodeName(c.Request.Context(), c.Query("q"), f.Season, parseLimit(c))
		}
		respondSearch(c, result, err, services.KindEpisodeName)
	})

	api.GET("/stats", func(c *gin.Context) {
		stats, err := search.Stats(c.Request.Context())
		if err != nil {
			respondSearchError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	api.GET("/facets/characters", func(c *gin.Context) {
		buckets, err := search.ListCharacters(c.Request.Context())
		respondFacets(c, buckets, err, "Characters")
	})

	api.GET("/facets/objects", func(c *gin.Context) {
		buckets, err := search.ListObjects(c.Request.Context())
		respondFacets(c, buckets, err, "Objects")
	})
}

// parseFilters reads the uniform optional season/episode/character
// filters from the query string.
func parseFilters(c *gin.Context) services.SearchFilters {
	var f services.SearchFilters
	if v, err := strconv.Atoi(c.Query("season")); err == nil && v >= 1 {
		f.Season = &v
	}
	if v, err := strconv.Atoi(c.Query("episode")); err == nil && v >= 1 {
		f.Episode = &v
	}
	f.Character = c.Query("character")
	return f
}

// parseLimit reads the result limit; 0 lets the engine apply its
// per-mode default.
func parseLimit(c *gin.Context) int {
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		return v
	}
	return 0
}

// saveUpload stores the uploaded image in a temp file and returns its
// path with a cleanup func. Responds with 400 on a missing file.
func saveUpload(c *gin.Context) (string, func(), bool) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.RespondWithBadRequest(c, "image file is required", nil)
		return "", nil, false
	}

	path := filepath.Join(os.TempDir(), uuid.NewString()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		utils.RespondWithInternalError(c, "failed to store uploaded image", nil)
		return "", nil, false
	}

	return path, func() {
		if err := os.Remove(path); err != nil {
			logger.Debug("failed to remove uploaded image", "path", path, "error", err)
		}
	}, true
}

func respondSearch(c *gin.Context, result *models.SearchResult, err error, kind services.ResultKind) {
	if err != nil {
		respondSearchError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, services.FormatResult(result, kind))
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondFacets(c *gin.Context, buckets []models.FacetBucket, err error, label string) {
	if err != nil {
		respondSearchError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, services.FormatFacets(buckets, label))
		return
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

func respondSearchError(c *gin.Context, err error) {
	logger.Error("search request failed", "path", c.FullPath(), "error", err)

	switch {
	case errors.Is(err, services.ErrMalformedQuery):
		utils.RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, services.ErrResourceUnavailable):
		utils.RespondWithServiceUnavailable(c, err.Error())
	case errors.Is(err, services.ErrBackendUnavailable):
		utils.RespondWithBadGateway(c, err.Error())
	default:
		utils.RespondWithInternalError(c, "search failed", nil)
	}
}

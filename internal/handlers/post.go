package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"facetag/internal/media/sniffer"
	"facetag/internal/repository"
	"facetag/internal/service"
)

const (
	msgNoFile       = "No file uploaded."
	msgNotImage     = "Only image files are supported."
	msgUpstreamAuth = "Server error: Unable to authenticate with external service."
)

// multipartOverhead leaves room for the form fields next to the file.
const multipartOverhead = 1 << 20

func (h HandlerSet) CreatePost(c *gin.Context) {
	if h.cfg.Upload.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Upload.MaxBytes+multipartOverhead)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}
	defer file.Close()

	userID, err := strconv.ParseInt(strings.TrimSpace(c.PostForm("userId")), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	result, err := h.posts.Create(c.Request.Context(), service.CreatePostInput{
		File:        file,
		Header:      header,
		Content:     c.PostForm("content"),
		UserID:      userID,
		SystemToken: c.PostForm("systemToken"),
	})
	if err != nil {
		h.writeCreateError(c, err, userID)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h HandlerSet) writeCreateError(c *gin.Context, err error, userID int64) {
	switch {
	case errors.Is(err, service.ErrNoFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
	case errors.Is(err, service.ErrNotImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNotImage})
	case errors.Is(err, service.ErrFileTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
	case errors.Is(err, sniffer.ErrTypeMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type_mismatch"})
	case errors.Is(err, service.ErrUpstreamRejected):
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("detection service rejected upload")
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUpstreamAuth})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		h.log.Error().Err(err).Int64("user_id", userID).Msg("detection service unreachable")
		c.JSON(http.StatusBadGateway, gin.H{"error": "detection_service_unavailable"})
	default:
		h.log.Error().Err(err).Int64("user_id", userID).Msg("create post failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}

func (h HandlerSet) PostDetail(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Query("postId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}

	detail, err := h.posts.Detail(c.Request.Context(), postID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPostNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "post_not_found"})
		case errors.Is(err, repository.ErrDetectionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "detection_not_found"})
		case errors.Is(err, service.ErrDetectionAmbiguous):
			h.log.Error().Err(err).Int64("post_id", postID).Msg("ambiguous detection match")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "detection_ambiguous"})
		default:
			h.log.Error().Err(err).Int64("post_id", postID).Msg("post detail failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		}
		return
	}

	c.JSON(http.StatusOK, detail)
}

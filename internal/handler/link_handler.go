package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SergeiKhy/shortlink-analytics/internal/middleware"
	"github.com/SergeiKhy/shortlink-analytics/internal/models"
	"github.com/SergeiKhy/shortlink-analytics/internal/service"
)

type LinkHandler struct {
	service  service.LinkService
	resolver *service.RedirectResolver
	baseURL  string
	logger   *zap.Logger
}

func NewLinkHandler(svc service.LinkService, resolver *service.RedirectResolver, baseURL string, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		service:  svc,
		resolver: resolver,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
	}
}

type CreateLinkRequest struct {
	URL       string `json:"url" binding:"required"`
	ShortCode string `json:"short_code,omitempty"`
	ExpiresIn *int   `json:"expires_in,omitempty" binding:"omitempty,min=1"` // минуты
}

// UpdateLinkRequest частичное обновление, отсутствующие поля не меняются
type UpdateLinkRequest struct {
	URL       *string `json:"url,omitempty"`
	ShortCode *string `json:"short_code,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

type LinkResponse struct {
	*models.Link
	ShortURL string `json:"short_url"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Redirect основной путь /:code. Любой сбой уводит на адрес по умолчанию.
func (h *LinkHandler) Redirect(c *gin.Context) {
	out := h.resolver.Resolve(c.Request.Context(), c.Param("code"), h.requestInfo(c))

	switch out.Kind {
	case service.OutcomeRedirect, service.OutcomeFallback:
		c.Header("Cache-Control", "no-store")
		c.Redirect(http.StatusFound, out.Location)
	default:
		// статические страницы приложения обслуживаются перед этим сервисом,
		// сюда зарезервированный путь доходит только по ошибке маршрутизации
		c.Header("Cache-Control", "no-store")
		c.Redirect(http.StatusFound, h.resolver.FallbackURL())
	}
}

// LegacyRedirect API-вариант редиректа с явными кодами ошибок
func (h *LinkHandler) LegacyRedirect(c *gin.Context) {
	out := h.resolver.Resolve(c.Request.Context(), c.Param("code"), h.requestInfo(c))

	switch {
	case out.Kind == service.OutcomeRedirect:
		c.Header("Cache-Control", "no-store")
		c.Redirect(http.StatusFound, out.Location)
	case out.Kind == service.OutcomeNotAShortCode, errors.Is(out.Cause, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Link not found"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal error"})
	}
}

func (h *LinkHandler) requestInfo(c *gin.Context) service.RequestInfo {
	return service.RequestInfo{
		Headers:  c.Request.Header,
		CallerID: middleware.CallerID(c),
	}
}

// CreateLink POST /api/links
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.service.CreateLink(c.Request.Context(), &models.CreateLinkInput{
		OwnerID:        middleware.CallerID(c),
		DestinationURL: req.URL,
		ShortCode:      req.ShortCode,
		ExpiresIn:      req.ExpiresIn,
	})
	if err != nil {
		h.writeError(c, "Failed to create link", err)
		return
	}

	h.logger.Info("Link created",
		zap.String("id", link.ID),
		zap.String("code", link.ShortCode),
		zap.String("owner", link.OwnerID),
	)
	c.JSON(http.StatusCreated, h.toResponse(link))
}

// ListLinks GET /api/links
func (h *LinkHandler) ListLinks(c *gin.Context) {
	links, err := h.service.ListLinks(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		h.writeError(c, "Failed to list links", err)
		return
	}

	resp := make([]LinkResponse, 0, len(links))
	for _, link := range links {
		resp = append(resp, h.toResponse(link))
	}
	c.JSON(http.StatusOK, gin.H{"links": resp, "total": len(resp)})
}

// GetLink GET /api/links/:id?clicks=N
func (h *LinkHandler) GetLink(c *gin.Context) {
	recent := 0
	if raw := c.Query("clicks"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "clicks должен быть неотрицательным числом",
			})
			return
		}
		recent = n
	}

	link, err := h.service.GetLink(c.Request.Context(), c.Param("id"), middleware.CallerID(c), recent)
	if err != nil {
		h.writeError(c, "Failed to get link", err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(link))
}

// UpdateLink PATCH /api/links/:id
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.service.UpdateLink(c.Request.Context(), c.Param("id"), middleware.CallerID(c), models.UpdateLinkInput{
		DestinationURL: req.URL,
		ShortCode:      req.ShortCode,
		IsActive:       req.IsActive,
	})
	if err != nil {
		h.writeError(c, "Failed to update link", err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(link))
}

// ToggleBookmark POST /api/links/:id/bookmark
func (h *LinkHandler) ToggleBookmark(c *gin.Context) {
	link, err := h.service.ToggleBookmark(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		h.writeError(c, "Failed to toggle bookmark", err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(link))
}

// DeleteLink DELETE /api/links/:id
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.DeleteLink(c.Request.Context(), id, middleware.CallerID(c)); err != nil {
		h.writeError(c, "Failed to delete link", err)
		return
	}

	h.logger.Info("Link deleted", zap.String("id", id))
	c.Status(http.StatusNoContent)
}

func (h *LinkHandler) toResponse(link *models.Link) LinkResponse {
	return LinkResponse{
		Link:     link,
		ShortURL: h.baseURL + "/" + link.ShortCode,
	}
}

// writeError переводит ошибки сервиса в HTTP-статусы
func (h *LinkHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Ссылка не найдена"})
	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_url", Message: err.Error()})
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_code", Message: err.Error()})
	case errors.Is(err, service.ErrBlockedDomain):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "blocked_domain", Message: err.Error()})
	case errors.Is(err, service.ErrCodeTaken):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "code_taken", Message: err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
	}
}

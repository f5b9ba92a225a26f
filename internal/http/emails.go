package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/mail-outbox/internal/http/middleware"
	"github.com/jmehdipour/mail-outbox/internal/model"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/service/queue"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func enqueueHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req model.EmailRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Template = strings.TrimSpace(req.Template)
		if req.Template == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "template is required"})
		}

		res, err := queueSvc.Enqueue(c.Request().Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrInvalidRecipients):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_recipients"})
			case errors.Is(err, queue.ErrTemplate):
				return c.JSON(http.StatusBadRequest, map[string]string{
					"error":       "invalid_template",
					"description": err.Error(),
				})
			}

			client, _ := middleware.ClientIDFromCtx(c)
			log.Errorf("enqueue failed client=%s: %v", client, err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, res)
	}
}

func getEmailHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := queueSvc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			log.Errorf("get email failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, m)
	}
}

func rollbackHandler(queueSvc *queue.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := queueSvc.Rollback(c.Request().Context(), c.Param("id"))
		switch {
		case err == nil:
			return c.NoContent(http.StatusNoContent)
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case errors.Is(err, queue.ErrNotCancellable):
			return c.JSON(http.StatusConflict, map[string]string{
				"error":       "not_cancellable",
				"description": err.Error(),
			})
		default:
			log.Errorf("rollback failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
	}
}

func listAttemptsHandler(journal repository.AttemptJournal) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		rows, err := journal.ListByOutboxID(c.Request().Context(), c.Param("id"), limit)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if rows == nil {
			rows = []model.DeliveryAttempt{}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"outbox_id": c.Param("id"),
			"limit":     limit,
			"count":     len(rows),
			"results":   rows,
		})
	}
}

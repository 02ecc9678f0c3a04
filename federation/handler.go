package federation

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/migration"
	"github.com/concrnt/ccworld-migration/receive"
)

var tracer = otel.Tracer("federation")

const maxInboxBody = 4 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) Handler {
	return Handler{service}
}

// Register mounts the federation endpoints on e.
func (h Handler) Register(e *echo.Echo) {
	e.GET("/.well-known/webfinger", h.WebFinger)
	e.GET("/people/:guid", h.Person)
	e.GET("/pod", h.Pod)
	e.GET("/fetch/:kind/:guid", h.Fetch)
	e.POST("/receive/public", h.Inbox)
}

func (h Handler) WebFinger(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "WebFinger")
	defer span.End()

	result, err := h.service.WebFinger(ctx, c.QueryParam("resource"))
	if err != nil {
		span.RecordError(err)
		return errorResponse(c, err)
	}

	c.Response().Header().Set("Content-Type", "application/jrd+json")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) Person(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Person")
	defer span.End()

	result, err := h.service.Person(ctx, c.Param("guid"))
	if err != nil {
		span.RecordError(err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h Handler) Pod(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Pod")
	defer span.End()

	result, err := h.service.Pod(ctx)
	if err != nil {
		span.RecordError(err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h Handler) Fetch(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Fetch")
	defer span.End()

	result, err := h.service.Fetch(ctx, c.Param("kind"), c.Param("guid"))
	if err != nil {
		span.RecordError(err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h Handler) Inbox(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Inbox")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInboxBody))
	if err != nil {
		span.RecordError(err)
		return c.String(http.StatusBadRequest, "Invalid request body")
	}

	if _, err := h.service.Inbox(ctx, c.Request(), body); err != nil {
		span.RecordError(err)
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return c.String(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidResource):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return c.String(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden),
		errors.Is(err, entities.ErrSignatureVerificationFailed),
		errors.Is(err, migration.ErrSignatureMissing),
		errors.Is(err, migration.ErrSignatureNotAccepted),
		errors.Is(err, receive.ErrMigrationsDisabled):
		return c.String(http.StatusForbidden, err.Error())
	case errors.Is(err, receive.ErrUnsupportedEntity),
		errors.Is(err, receive.ErrRecipientNotLocal),
		errors.Is(err, receive.ErrParentMissing):
		return c.String(http.StatusUnprocessableEntity, err.Error())
	}
	return c.String(http.StatusInternalServerError, "Internal server error: "+err.Error())
}

package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

var errNotificationMissing = echo.NewHTTPError(http.StatusNotFound, "Notification not found")

type notificationAPI struct {
	store interfaces.NotificationStore
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, store interfaces.NotificationStore) {
	api := notificationAPI{store: store}

	ng := g.Group("/notification", jwt)
	ng.GET("", api.list)
	ng.PUT("/:id/read", api.markRead)
}

func (api *notificationAPI) list(c echo.Context) error {
	limit := defaultNotificationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return types.NewValidationError("limit", "limit must be a positive number")
		}
		limit = min(n, maxNotificationLimit)
	}
	list, err := api.store.ListNotifications(c.Request().Context(), callerID(c), limit)
	if err != nil {
		return errors.Wrap(err, "list notifications")
	}
	return ok(c, http.StatusOK, "Notifications retrieved", list)
}

func (api *notificationAPI) markRead(c echo.Context) error {
	id, err := pathID(c, "notificationId")
	if err != nil {
		return err
	}
	err = api.store.MarkNotificationRead(c.Request().Context(), id, callerID(c))
	if errors.Is(err, interfaces.ErrNotFound) {
		return errNotificationMissing
	}
	if err != nil {
		return errors.Wrap(err, "mark notification read")
	}
	return ok(c, http.StatusOK, "Notification marked as read", nil)
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"schoolchat/internal/auth"
	"schoolchat/internal/router"
	"schoolchat/pkg/types"
)

type messageAPI struct {
	router *router.Router
}

func registerMessageAPI(g *echo.Group, jwt echo.MiddlewareFunc, r *router.Router) {
	api := messageAPI{router: r}

	mg := g.Group("/message", jwt)
	mg.POST("", api.create)
	mg.GET("", api.conversation)
	mg.GET("/unread/:id", api.unread)
	mg.PUT("/:id", api.markSeen)
	mg.DELETE("/:id", api.destroy)
}

// callerID is the authenticated user, or "" when the route is unauthenticated.
func callerID(c echo.Context) string {
	id, _ := auth.FromContext(c)
	return id.UserID
}

func pathID(c echo.Context, field string) (string, error) {
	id := c.Param("id")
	if err := types.CheckID(id, field); err != nil {
		return "", err
	}
	return id, nil
}

func (api *messageAPI) create(c echo.Context) error {
	var req types.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	caller := callerID(c)
	if req.SenderID == "" {
		req.SenderID = caller
	}
	msg, err := api.router.SendDirect(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, "Message sent", msg)
}

func (api *messageAPI) conversation(c echo.Context) error {
	req := types.ConversationRequest{
		SenderID:   c.QueryParam("senderId"),
		ReceiverID: c.QueryParam("receiverId"),
	}
	if err := types.Validate(req); err != nil {
		return err
	}
	msgs, err := api.router.ReadConversation(c.Request().Context(), callerID(c), req.SenderID, req.ReceiverID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Messages retrieved", msgs)
}

func (api *messageAPI) unread(c echo.Context) error {
	userID, err := pathID(c, "userId")
	if err != nil {
		return err
	}
	msgs, err := api.router.UnreadMessages(c.Request().Context(), callerID(c), userID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Unread messages retrieved", msgs)
}

func (api *messageAPI) markSeen(c echo.Context) error {
	id, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	msg, err := api.router.MarkSeen(c.Request().Context(), callerID(c), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Message marked as seen", msg)
}

func (api *messageAPI) destroy(c echo.Context) error {
	id, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	if err := api.router.DeleteDirect(c.Request().Context(), callerID(c), id); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Message deleted", nil)
}

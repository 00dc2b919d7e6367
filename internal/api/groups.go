package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"schoolchat/internal/auth"
	"schoolchat/internal/router"
	"schoolchat/pkg/types"
)

type sectionAPI struct {
	router *router.Router
}

func registerSectionAPI(g *echo.Group, jwt echo.MiddlewareFunc, r *router.Router) {
	api := sectionAPI{router: r}

	sg := g.Group("/section-message", jwt)
	sg.POST("", api.create)
	sg.GET("", api.query)
	sg.GET("/section/:id", api.history)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
}

func (api *sectionAPI) create(c echo.Context) error {
	var req types.SectionMessageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	caller := callerID(c)
	if req.SenderID == "" {
		req.SenderID = caller
	}
	msg, err := api.router.SendSection(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, "Section message sent", msg)
}

func (api *sectionAPI) query(c echo.Context) error {
	sectionID := c.QueryParam("sectionId")
	if err := types.CheckID(sectionID, "sectionId"); err != nil {
		return err
	}
	return api.list(c, sectionID)
}

func (api *sectionAPI) history(c echo.Context) error {
	sectionID, err := pathID(c, "sectionId")
	if err != nil {
		return err
	}
	return api.list(c, sectionID)
}

func (api *sectionAPI) list(c echo.Context, sectionID string) error {
	msgs, err := api.router.SectionHistory(c.Request().Context(), sectionID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Section messages retrieved", msgs)
}

func (api *sectionAPI) update(c echo.Context) error {
	id, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	var req types.MessageUpdateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := api.router.UpdateSection(c.Request().Context(), callerID(c), id, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Section message updated", msg)
}

func (api *sectionAPI) destroy(c echo.Context) error {
	id, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	if err := api.router.DeleteSection(c.Request().Context(), callerID(c), id); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Section message deleted", nil)
}

type gradeLevelAPI struct {
	router *router.Router
}

func registerGradeLevelAPI(g *echo.Group, jwt echo.MiddlewareFunc, r *router.Router) {
	api := gradeLevelAPI{router: r}

	gg := g.Group("/grade-level-message", jwt)
	gg.POST("", api.create)
	gg.GET("/grade-level/:id", api.history)
	// Member lists expose the roster, so only staff may read them.
	gg.GET("/grade-level/:id/users", api.members, auth.RequireRole(types.RoleTeacher, types.RoleDirector))
	gg.PUT("/:id", api.update)
	gg.DELETE("/:id", api.destroy)
}

func (api *gradeLevelAPI) create(c echo.Context) error {
	var req types.GradeLevelMessageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	caller := callerID(c)
	if req.SenderID == "" {
		req.SenderID = caller
	}
	msg, err := api.router.SendGradeLevel(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, "Grade level message sent", msg)
}

func (api *gradeLevelAPI) history(c echo.Context) error {
	gradeLevelID, err := pathID(c, "gradeLevelId")
	if err != nil {
		return err
	}
	msgs, err := api.router.GradeLevelHistory(c.Request().Context(), gradeLevelID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Grade level messages retrieved", msgs)
}

func (api *gradeLevelAPI) members(c echo.Context) error {
	gradeLevelID, err := pathID(c, "gradeLevelId")
	if err != nil {
		return err
	}
	users, err := api.router.GradeLevelMembers(c.Request().Context(), gradeLevelID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Grade level users retrieved", users)
}

func (api *gradeLevelAPI) update(c echo.Context) error {
	id, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	var req types.MessageUpdateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	msg, err := api.router.UpdateGradeLevel(c.Request().Context(), callerID(c), id, req)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Grade level message updated", msg)
}

func (api *gradeLevelAPI) destroy(c echo.Context) error {
	id, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	if err := api.router.DeleteGradeLevel(c.Request().Context(), callerID(c), id); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "Grade level message deleted", nil)
}

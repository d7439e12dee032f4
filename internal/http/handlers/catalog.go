package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/http/response"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

type CatalogHandler struct {
	catalog repos.CatalogRepo
}

func NewCatalogHandler(catalog repos.CatalogRepo) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// GET /api/catalog
func (h *CatalogHandler) GetCatalog(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	themes, err := h.catalog.ListThemes(dbc)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	languages, err := h.catalog.ListLanguages(dbc)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	tones, err := h.catalog.ListTones(dbc)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"themes": themes, "languages": languages, "tones": tones})
}

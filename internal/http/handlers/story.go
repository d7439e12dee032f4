package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/http/response"
	storiesmod "github.com/yungbote/storybook-backend/internal/modules/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

// StoryUsecases is the slice of the stories module the HTTP layer drives.
type StoryUsecases interface {
	Admit(ctx context.Context, in storiesmod.AdmitInput) (storiesmod.AdmitOutput, error)
	Retry(ctx context.Context, in storiesmod.RetryInput) (storiesmod.Result, error)
	GetGenerationStatus(ctx context.Context, in storiesmod.StatusInput) (storiesmod.GenerationStatusView, error)
	GetQuota(ctx context.Context, ownerID uuid.UUID) (types.QuotaSnapshot, error)
}

type StoryHandler struct {
	log     *logger.Logger
	stories StoryUsecases
}

func NewStoryHandler(log *logger.Logger, stories StoryUsecases) *StoryHandler {
	return &StoryHandler{log: log.With("handler", "StoryHandler"), stories: stories}
}

type createStoryRequest struct {
	types.Brief
	ThemeID    uuid.UUID `json:"theme_id"`
	LanguageID uuid.UUID `json:"language_id"`
	ToneID     uuid.UUID `json:"tone_id"`
	IsPublic   bool      `json:"is_public"`
}

// POST /api/stories
//
// 202 with the new story, or 200 with the owner's in-flight story.
func (h *StoryHandler) CreateStory(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	out, err := h.stories.Admit(c.Request.Context(), storiesmod.AdmitInput{
		OwnerID:    owner,
		Brief:      req.Brief,
		ThemeID:    req.ThemeID,
		LanguageID: req.LanguageID,
		ToneID:     req.ToneID,
		IsPublic:   req.IsPublic,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if out.Existing {
		response.RespondOK(c, gin.H{"story": out.Result, "existing": true})
		return
	}
	response.RespondAccepted(c, gin.H{"story": out.Result, "existing": false})
}

// POST /api/stories/:id/retry
func (h *StoryHandler) RetryStory(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}
	storyID, ok := pathUUID(c, "id", "invalid_story_id")
	if !ok {
		return
	}
	out, err := h.stories.Retry(c.Request.Context(), storiesmod.RetryInput{OwnerID: owner, StoryID: storyID})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"story": out})
}

// GET /api/stories/:id/generation
func (h *StoryHandler) GetGeneration(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}
	storyID, ok := pathUUID(c, "id", "invalid_story_id")
	if !ok {
		return
	}
	view, err := h.stories.GetGenerationStatus(c.Request.Context(), storiesmod.StatusInput{OwnerID: owner, StoryID: storyID})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"generation": view})
}

// GET /api/stories/quota
func (h *StoryHandler) GetQuota(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}
	q, err := h.stories.GetQuota(c.Request.Context(), owner)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quota": q})
}

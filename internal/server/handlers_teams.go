package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trackroom/backend/internal/teams"
)

type teamPayload struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedBy uint      `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func newTeamPayload(team teams.Team) teamPayload {
	return teamPayload{ID: team.ID, Name: team.Name, CreatedBy: team.CreatedBy, CreatedAt: team.CreatedAt}
}

type teamUploadPayload struct {
	ID               uint      `json:"id"`
	UploaderID       uint      `json:"uploader_id"`
	OriginalFilename string    `json:"original_filename"`
	Folder           string    `json:"folder"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

func newTeamUploadPayload(upload teams.Upload) teamUploadPayload {
	return teamUploadPayload{
		ID:               upload.ID,
		UploaderID:       upload.UserID,
		OriginalFilename: upload.OriginalFilename,
		Folder:           upload.Folder,
		UploadedAt:       upload.UploadedAt,
	}
}

func (h *httpHandler) handleListTeams(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	memberTeams, err := h.teams.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]teamPayload, 0, len(memberTeams))
	for _, team := range memberTeams {
		payload = append(payload, newTeamPayload(team))
	}
	c.JSON(http.StatusOK, gin.H{"teams": payload})
}

type teamRequestPayload struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *httpHandler) handleCreateTeam(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request teamRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	team, err := h.teams.Create(c.Request.Context(), userID, request.Name, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTeamPayload(team))
}

func (h *httpHandler) handleJoinTeam(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request teamRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	team, err := h.teams.Join(c.Request.Context(), userID, request.Name, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTeamPayload(team))
}

func (h *httpHandler) handleTeamDetail(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	teamID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	team, err := h.teams.Get(ctx, teamID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	uploads, err := h.teams.Uploads(ctx, teamID, userID, c.Query("folder"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	folders, err := h.teams.Folders(ctx, teamID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	uploadPayloads := make([]teamUploadPayload, 0, len(uploads))
	for _, upload := range uploads {
		uploadPayloads = append(uploadPayloads, newTeamUploadPayload(upload))
	}
	c.JSON(http.StatusOK, gin.H{
		"team":    newTeamPayload(team),
		"uploads": uploadPayloads,
		"folders": folders,
	})
}

func (h *httpHandler) handleTeamUpload(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	teamID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	file, filename, ok := formUpload(c)
	if !ok {
		return
	}
	defer file.Close()

	upload, err := h.teams.Upload(c.Request.Context(), teamID, userID, filename, c.PostForm("folder"), file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTeamUploadPayload(upload))
}

func (h *httpHandler) handleTeamDownload(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	teamID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	uploadID, ok := uintParam(c, "uploadID")
	if !ok {
		return
	}

	reader, upload, err := h.teams.Open(c.Request.Context(), teamID, userID, uploadID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "audio/mpeg")
	c.Header("Content-Disposition", contentDisposition("attachment", upload.OriginalFilename))
	c.Status(http.StatusOK)
	io.Copy(c.Writer, reader) //nolint:errcheck
}

func (h *httpHandler) handleTeamDeleteUpload(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	teamID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	uploadID, ok := uintParam(c, "uploadID")
	if !ok {
		return
	}

	if err := h.teams.DeleteUpload(c.Request.Context(), teamID, userID, uploadID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

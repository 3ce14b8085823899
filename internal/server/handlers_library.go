package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trackroom/backend/internal/library"
)

type audioFilePayload struct {
	ID               uint      `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	UploadDate       time.Time `json:"upload_date"`
}

func newAudioFilePayload(audio library.AudioFile) audioFilePayload {
	return audioFilePayload{
		ID:               audio.ID,
		OriginalFilename: audio.OriginalFilename,
		UploadDate:       audio.UploadDate,
	}
}

type loopPayload struct {
	ID        uint    `json:"id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Label     string  `json:"label,omitempty"`
}

type notePayload struct {
	ID        uint    `json:"id"`
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

// formUpload pulls the "file" part out of a multipart form, capping the
// request body first.
func formUpload(c *gin.Context) (multipart.File, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, "", false
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, "", false
	}
	return file, fileHeader.Filename, true
}

func (h *httpHandler) handleListLibrary(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	files, err := h.library.List(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]audioFilePayload, 0, len(files))
	for _, audio := range files {
		payload = append(payload, newAudioFilePayload(audio))
	}
	c.JSON(http.StatusOK, gin.H{"files": payload})
}

func (h *httpHandler) handleLibraryUpload(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	file, filename, ok := formUpload(c)
	if !ok {
		return
	}
	defer file.Close()

	audio, err := h.library.Upload(c.Request.Context(), userID, filename, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAudioFilePayload(audio))
}

func (h *httpHandler) handleLibraryDetail(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	audio, err := h.library.Get(ctx, userID, audioID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	loops, err := h.library.Loops(ctx, userID, audioID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	notes, err := h.library.Notes(ctx, userID, audioID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	speed, err := h.library.Speed(ctx, userID, audioID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	loopPayloads := make([]loopPayload, 0, len(loops))
	for _, loop := range loops {
		loopPayloads = append(loopPayloads, loopPayload{
			ID: loop.ID, StartTime: loop.StartTime, EndTime: loop.EndTime, Label: loop.Label,
		})
	}
	notePayloads := make([]notePayload, 0, len(notes))
	for _, note := range notes {
		notePayloads = append(notePayloads, notePayload{ID: note.ID, Timestamp: note.Timestamp, Text: note.Text})
	}

	c.JSON(http.StatusOK, gin.H{
		"file":  newAudioFilePayload(audio),
		"loops": loopPayloads,
		"notes": notePayloads,
		"speed": speed,
	})
}

func (h *httpHandler) handleLibraryDownload(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	reader, audio, err := h.library.Open(c.Request.Context(), userID, audioID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "audio/mpeg")
	c.Header("Content-Disposition", contentDisposition("inline", audio.OriginalFilename))
	c.Status(http.StatusOK)
	io.Copy(c.Writer, reader) //nolint:errcheck
}

func (h *httpHandler) handleLibraryDelete(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	if err := h.library.Delete(c.Request.Context(), userID, audioID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addLoopPayload struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Label     string  `json:"label"`
}

func (h *httpHandler) handleAddLoop(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var request addLoopPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	loop, err := h.library.AddLoop(c.Request.Context(), userID, audioID, request.StartTime, request.EndTime, request.Label)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loopPayload{
		ID: loop.ID, StartTime: loop.StartTime, EndTime: loop.EndTime, Label: loop.Label,
	})
}

type addNotePayload struct {
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var request addNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.library.AddNote(c.Request.Context(), userID, audioID, request.Timestamp, request.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, notePayload{ID: note.ID, Timestamp: note.Timestamp, Text: note.Text})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	noteID, ok := uintParam(c, "noteID")
	if !ok {
		return
	}

	if err := h.library.DeleteNote(c.Request.Context(), userID, audioID, noteID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setSpeedPayload struct {
	Speed float64 `json:"speed"`
}

func (h *httpHandler) handleSetSpeed(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	audioID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var request setSpeedPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.library.SetSpeed(c.Request.Context(), userID, audioID, request.Speed); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trackroom/backend/internal/accounts"
	"github.com/trackroom/backend/internal/auth"
	"github.com/trackroom/backend/internal/database"
	"github.com/trackroom/backend/internal/library"
	"github.com/trackroom/backend/internal/server"
	"github.com/trackroom/backend/internal/storage"
	"github.com/trackroom/backend/internal/teams"
	"go.uber.org/zap"
)

// client drives the API the way a browser session would, holding the
// session cookie between requests.
type client struct {
	t       *testing.T
	baseURL string
	http    *http.Client
	cookie  *http.Cookie
}

func startStack(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "integration.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	blobStore, err := storage.NewManager(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build accounts service: %v", err)
	}
	libraryService, err := library.NewService(library.ServiceConfig{Database: db, Storage: blobStore, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build library service: %v", err)
	}
	teamService, err := teams.NewService(teams.ServiceConfig{Database: db, Storage: blobStore, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build teams service: %v", err)
	}
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-secret"),
		Issuer:        "trackroom-auth",
		Audience:      "trackroom-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:   accountService,
		Library:    libraryService,
		Teams:      teamService,
		Tokens:     tokenManager,
		CookieName: "trackroom_token",
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	apiServer := httptest.NewServer(handler)
	t.Cleanup(apiServer.Close)
	return apiServer
}

func newClient(t *testing.T, apiServer *httptest.Server) *client {
	return &client{t: t, baseURL: apiServer.URL, http: apiServer.Client()}
}

func (c *client) do(method, path string, payload any) *http.Response {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		request.AddCookie(c.cookie)
	}
	response, err := c.http.Do(request)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return response
}

func (c *client) decode(response *http.Response, wantStatus int, target any) {
	c.t.Helper()
	defer response.Body.Close()
	if response.StatusCode != wantStatus {
		raw, _ := io.ReadAll(response.Body)
		c.t.Fatalf("unexpected status %d (want %d): %s", response.StatusCode, wantStatus, raw)
	}
	if target != nil {
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			c.t.Fatalf("failed to decode response: %v", err)
		}
	}
}

func (c *client) signUp(username, password string) {
	c.t.Helper()
	c.decode(c.do(http.MethodPost, "/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}), http.StatusCreated, nil)

	response := c.do(http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	for _, cookie := range response.Cookies() {
		if cookie.Name == "trackroom_token" {
			c.cookie = cookie
		}
	}
	c.decode(response, http.StatusOK, nil)
	if c.cookie == nil {
		c.t.Fatalf("login did not set a session cookie for %s", username)
	}
}

func (c *client) upload(path, filename, folder, content string) *http.Response {
	c.t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		c.t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		c.t.Fatalf("failed to write file content: %v", err)
	}
	if folder != "" {
		if err := writer.WriteField("folder", folder); err != nil {
			c.t.Fatalf("failed to write folder field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		c.t.Fatalf("failed to close writer: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buffer)
	if err != nil {
		c.t.Fatalf("failed to build upload request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cookie != nil {
		request.AddCookie(c.cookie)
	}
	response, err := c.http.Do(request)
	if err != nil {
		c.t.Fatalf("upload failed: %v", err)
	}
	return response
}

func TestFullWorkflow(t *testing.T) {
	apiServer := startStack(t)

	alice := newClient(t, apiServer)
	bob := newClient(t, apiServer)
	alice.signUp("alice", "correct horse")
	bob.signUp("bob", "battery staple")

	// Alice builds her personal library.
	var uploaded struct {
		ID               uint   `json:"id"`
		OriginalFilename string `json:"original_filename"`
	}
	alice.decode(alice.upload("/library", "first draft.mp3", "", "alice-audio"), http.StatusCreated, &uploaded)
	if uploaded.OriginalFilename != "first draft.mp3" {
		t.Fatalf("original filename lost: %s", uploaded.OriginalFilename)
	}
	libraryBase := fmt.Sprintf("/library/%d", uploaded.ID)

	alice.decode(alice.do(http.MethodPost, libraryBase+"/loops", map[string]any{
		"start_time": 8.0, "end_time": 24.0, "label": "chorus",
	}), http.StatusCreated, nil)
	var note struct {
		ID uint `json:"id"`
	}
	alice.decode(alice.do(http.MethodPost, libraryBase+"/notes", map[string]any{
		"timestamp": 10.5, "text": "tempo drags here",
	}), http.StatusCreated, &note)
	alice.decode(alice.do(http.MethodPut, libraryBase+"/speed", map[string]any{
		"speed": 0.5,
	}), http.StatusNoContent, nil)

	var detail struct {
		Loops []struct {
			Label string `json:"label"`
		} `json:"loops"`
		Notes []struct {
			Text string `json:"text"`
		} `json:"notes"`
		Speed float64 `json:"speed"`
	}
	alice.decode(alice.do(http.MethodGet, libraryBase, nil), http.StatusOK, &detail)
	if len(detail.Loops) != 1 || detail.Loops[0].Label != "chorus" {
		t.Fatalf("unexpected loops: %+v", detail.Loops)
	}
	if len(detail.Notes) != 1 || detail.Notes[0].Text != "tempo drags here" {
		t.Fatalf("unexpected notes: %+v", detail.Notes)
	}
	if detail.Speed != 0.5 {
		t.Fatalf("unexpected speed %f", detail.Speed)
	}

	// Bob cannot see Alice's file.
	response := bob.do(http.MethodGet, libraryBase, nil)
	response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign library file, got %d", response.StatusCode)
	}
	var bobList struct {
		Files []any `json:"files"`
	}
	bob.decode(bob.do(http.MethodGet, "/library", nil), http.StatusOK, &bobList)
	if len(bobList.Files) != 0 {
		t.Fatalf("expected empty library for bob, got %d files", len(bobList.Files))
	}

	// Alice forms a team and Bob joins with the shared password.
	var team struct {
		ID uint `json:"id"`
	}
	alice.decode(alice.do(http.MethodPost, "/teams", map[string]string{
		"name": "Garage Band", "password": "amplify",
	}), http.StatusCreated, &team)
	bob.decode(bob.do(http.MethodPost, "/teams/join", map[string]string{
		"name": "Garage Band", "password": "amplify",
	}), http.StatusOK, nil)

	teamBase := fmt.Sprintf("/teams/%d", team.ID)
	var teamUpload struct {
		ID         uint   `json:"id"`
		UploaderID uint   `json:"uploader_id"`
		Folder     string `json:"folder"`
	}
	alice.decode(alice.upload(teamBase+"/uploads", "demo mix.mp3", "Demos", "team-audio"), http.StatusCreated, &teamUpload)
	if teamUpload.Folder != "Demos" {
		t.Fatalf("unexpected folder %s", teamUpload.Folder)
	}

	// Bob, as a member, downloads Alice's team upload.
	download := bob.do(http.MethodGet, fmt.Sprintf("%s/uploads/%d/download", teamBase, teamUpload.ID), nil)
	content, err := io.ReadAll(download.Body)
	download.Body.Close()
	if err != nil {
		t.Fatalf("failed to read team download: %v", err)
	}
	if download.StatusCode != http.StatusOK || string(content) != "team-audio" {
		t.Fatalf("unexpected team download: status %d content %q", download.StatusCode, content)
	}

	// Bob cannot delete what Alice uploaded; Alice can.
	response = bob.do(http.MethodDelete, fmt.Sprintf("%s/uploads/%d", teamBase, teamUpload.ID), nil)
	response.Body.Close()
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-uploader delete, got %d", response.StatusCode)
	}
	alice.decode(alice.do(http.MethodDelete, fmt.Sprintf("%s/uploads/%d", teamBase, teamUpload.ID), nil), http.StatusNoContent, nil)

	// Both see the team in their listings.
	for _, member := range []*client{alice, bob} {
		var listing struct {
			Teams []struct {
				Name string `json:"name"`
			} `json:"teams"`
		}
		member.decode(member.do(http.MethodGet, "/teams", nil), http.StatusOK, &listing)
		if len(listing.Teams) != 1 || listing.Teams[0].Name != "Garage Band" {
			t.Fatalf("unexpected team listing: %+v", listing.Teams)
		}
	}

	// Cleanup on the personal side: delete the note, then the file.
	alice.decode(alice.do(http.MethodDelete, fmt.Sprintf("%s/notes/%d", libraryBase, note.ID), nil), http.StatusNoContent, nil)
	alice.decode(alice.do(http.MethodDelete, libraryBase, nil), http.StatusNoContent, nil)

	// Logout clears the session cookie.
	logout := alice.do(http.MethodGet, "/auth/logout", nil)
	logout.Body.Close()
	if logout.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected logout status %d", logout.StatusCode)
	}
	for _, cookie := range logout.Cookies() {
		if cookie.Name == "trackroom_token" && cookie.MaxAge >= 0 {
			t.Fatalf("expected logout to expire the session cookie")
		}
	}
}

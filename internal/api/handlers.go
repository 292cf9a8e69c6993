package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"crumbchat/internal/content"
	"crumbchat/internal/models"
	"crumbchat/internal/platform"
	"crumbchat/internal/upload"
)

type API struct {
	platform *platform.Platform
}

func New(p *platform.Platform) *API {
	return &API{platform: p}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the bearer token and passes the user id on.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.platform.UserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

func (a *API) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := a.platform.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		if errors.Is(err, platform.ErrUserExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, sess)
}

func (a *API) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := a.platform.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}
	writeJSON(w, sess)
}

func (a *API) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.platform.SignOut(r.Context(), token)
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) ProfilesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	profiles, err := a.platform.Profiles(r.Context())
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, profiles)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := a.platform.PublicMessages(r.Context(), limit)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if wantsHTML(r) {
		renderMessages(msgs)
	}
	writeJSON(w, msgs)
}

// wantsHTML reports whether the caller asked for message text rendered as
// markdown instead of the stored source.
func wantsHTML(r *http.Request) bool {
	return r.URL.Query().Get("format") == "html"
}

func renderMessages(msgs []models.Message) {
	for i := range msgs {
		html, err := content.RenderMarkdown(msgs[i].Content)
		if err != nil {
			msgs[i].Content = content.Escape(msgs[i].Content)
			continue
		}
		msgs[i].Content = html
	}
}

func renderCrumbs(crumbs []models.Crumb) {
	for i := range crumbs {
		html, err := content.RenderMarkdown(crumbs[i].Content)
		if err != nil {
			crumbs[i].Content = content.Escape(crumbs[i].Content)
			continue
		}
		crumbs[i].Content = html
	}
}

func (a *API) ThreadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	otherID := r.PathValue("userID")
	if otherID == "" {
		http.Error(w, "Missing user id", http.StatusBadRequest)
		return
	}

	msgs, err := a.platform.Thread(r.Context(), userID, otherID)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if wantsHTML(r) {
		renderMessages(msgs)
	}
	writeJSON(w, msgs)
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	ReceiverID  string `json:"receiverId,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ClientToken string `json:"clientToken,omitempty"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg := models.Message{
		SenderID:    userID,
		ReceiverID:  req.ReceiverID,
		Content:     strings.TrimSpace(req.Content),
		ImageURL:    req.ImageURL,
		ClientToken: req.ClientToken,
	}
	if err := a.platform.InsertMessage(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) CrumbsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	crumbs, err := a.platform.Crumbs(r.Context(), limit)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if wantsHTML(r) {
		renderCrumbs(crumbs)
	}
	writeJSON(w, crumbs)
}

type postCrumbRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl,omitempty"`
}

func (a *API) PostCrumbHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req postCrumbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	crumb := models.Crumb{
		UserID:  userID,
		Content: strings.TrimSpace(req.Content),
	}
	crumb.ImageURL = req.ImageURL
	if err := a.platform.InsertCrumb(r.Context(), crumb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) UploadImageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	data, err := io.ReadAll(io.LimitReader(r.Body, upload.MaxImageSize+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	uploader := upload.New(a.platform, userID)
	url, err := uploader.UploadImage(r.Context(), data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrNotImage), errors.Is(err, upload.ErrTooLarge):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Upload failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, map[string]string{"url": url})
}

func (a *API) GetObjectHandler(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	rc, meta, err := a.platform.Object(r.Context(), path)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to write object %s: %v", path, err)
	}
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var sub platform.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if sub.Endpoint == "" {
		http.Error(w, "Missing endpoint", http.StatusBadRequest)
		return
	}

	if err := a.platform.SavePushSubscription(r.Context(), userID, sub); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/service"
	"github.com/noah-isme/account-api/pkg/response"
)

type profileAPI interface {
	Profile(ctx context.Context, id string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) (*models.ProfileResponse, error)
	UpdateTheme(ctx context.Context, id string, req models.ThemeRequest) (*models.Profile, error)
	UpdateLanguage(ctx context.Context, id string, req models.LanguageRequest) (*models.Profile, error)
	ChangePassword(ctx context.Context, id string, req models.ChangePasswordRequest) (*models.MessageResponse, error)
	DeleteAccount(ctx context.Context, id string, req models.DeleteAccountRequest) (*models.MessageResponse, error)
	List(ctx context.Context, filter models.UserFilter) (*models.UserList, error)
	Get(ctx context.Context, id string) (*models.Profile, error)
	Delete(ctx context.Context, actorID, id string) (*models.MessageResponse, error)
	ExportUsers(ctx context.Context, format, search string) (*service.UserExport, error)
}

type avatarAPI interface {
	Upload(ctx context.Context, userID string, file *multipart.FileHeader) (*models.AvatarResponse, error)
	Remove(ctx context.Context, userID string) (*models.MessageResponse, error)
}

// UserHandler serves profile endpoints and the admin user endpoints.
type UserHandler struct {
	users   profileAPI
	avatars avatarAPI
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users profileAPI, avatars avatarAPI) *UserHandler {
	return &UserHandler{users: users, avatars: avatars}
}

// Profile godoc
// @Summary Get profile
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Profile
// @Failure 401 {object} response.ErrorBody
// @Router /users/me [get]
func (h *UserHandler) Profile(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	profile, err := h.users.Profile(c.Request.Context(), identity.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// UpdateProfile godoc
// @Summary Update profile
// @Description Update name, avatar URL, theme or language; omitted fields are kept
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.UpdateProfileRequest true "Profile changes"
// @Success 200 {object} models.ProfileResponse
// @Failure 400 {object} response.ErrorBody
// @Failure 422 {object} response.ErrorBody
// @Router /users/me [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req models.UpdateProfileRequest
	if !bindJSON(c, &req, false) {
		return
	}

	res, err := h.users.UpdateProfile(c.Request.Context(), identity.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ChangePassword godoc
// @Summary Change password
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.ChangePasswordRequest true "Change password"
// @Success 200 {object} models.MessageResponse
// @Failure 400 {object} response.ErrorBody
// @Router /users/change-password [put]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req models.ChangePasswordRequest
	if !bindJSON(c, &req, false) {
		return
	}

	res, err := h.users.ChangePassword(c.Request.Context(), identity.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// UploadAvatar godoc
// @Summary Upload avatar
// @Description Multipart upload in field "avatar"; jpg, jpeg, png, gif or webp
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param avatar formData file true "Avatar image"
// @Success 200 {object} models.AvatarResponse
// @Failure 400 {object} response.ErrorBody
// @Router /users/upload-avatar [post]
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	// A missing field and a non-multipart body are both reported as no file.
	file, err := c.FormFile("avatar")
	if err != nil {
		file = nil
	}

	res, err := h.avatars.Upload(c.Request.Context(), identity.ID, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// DeleteAvatar godoc
// @Summary Delete avatar
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.MessageResponse
// @Router /users/avatar [delete]
func (h *UserHandler) DeleteAvatar(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	res, err := h.avatars.Remove(c.Request.Context(), identity.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// UpdateTheme godoc
// @Summary Update theme
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.ThemeRequest true "Theme"
// @Success 200 {object} models.Profile
// @Failure 422 {object} response.ErrorBody
// @Router /users/theme [patch]
func (h *UserHandler) UpdateTheme(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req models.ThemeRequest
	if !bindJSON(c, &req, false) {
		return
	}

	profile, err := h.users.UpdateTheme(c.Request.Context(), identity.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// UpdateLanguage godoc
// @Summary Update language
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.LanguageRequest true "Language"
// @Success 200 {object} models.Profile
// @Failure 422 {object} response.ErrorBody
// @Router /users/language [patch]
func (h *UserHandler) UpdateLanguage(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req models.LanguageRequest
	if !bindJSON(c, &req, false) {
		return
	}

	profile, err := h.users.UpdateLanguage(c.Request.Context(), identity.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// DeleteAccount godoc
// @Summary Delete own account
// @Description Requires the current password; refresh tokens are removed with the account
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.DeleteAccountRequest true "Current password"
// @Success 200 {object} models.MessageResponse
// @Failure 400 {object} response.ErrorBody
// @Router /users/delete-account [delete]
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req models.DeleteAccountRequest
	if !bindJSON(c, &req, false) {
		return
	}

	res, err := h.users.DeleteAccount(c.Request.Context(), identity.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// List godoc
// @Summary List users
// @Description Admin listing, newest first
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param limit query int false "Page size (max 100)"
// @Param search query string false "Name or email contains"
// @Success 200 {object} models.UserList
// @Failure 403 {object} response.ErrorBody
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	filter := models.UserFilter{Search: c.Query("search")}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil {
		filter.Limit = limit
	}

	list, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Get godoc
// @Summary Get user
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} models.Profile
// @Failure 404 {object} response.ErrorBody
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	profile, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// Delete godoc
// @Summary Delete user
// @Description Admins cannot delete their own account here
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} models.MessageResponse
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	res, err := h.users.Delete(c.Request.Context(), identity.ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Export godoc
// @Summary Export users
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Param search query string false "Name or email contains"
// @Success 200 {file} file
// @Failure 400 {object} response.ErrorBody
// @Router /users/export [get]
func (h *UserHandler) Export(c *gin.Context) {
	out, err := h.users.ExportUsers(c.Request.Context(), c.Query("format"), c.Query("search"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, out.ContentType, out.Data)
}

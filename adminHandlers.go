package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/mmdatafocus/shop_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	companyResetConfirmation = "RESET"
	systemResetConfirmation  = "RESET-ALL"
	backupURLLifetime        = 15 * time.Minute
)

// adminAPI serves the system admin endpoints. Every route behind it runs
// after RequireSystemAdmin.
type adminAPI struct {
	DB     *gorm.DB
	Engine *workflow.ResetEngine
	Backup *workflow.BackupWorkflow
	Signer downloadSigner
	Logger *logrus.Logger
}

// downloadSigner is *utils.GCSStorage when backups go to GCS.
type downloadSigner interface {
	SignDownload(ref string, expires time.Duration) (*utils.SignedDownload, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type resetRequest struct {
	DryRun          bool   `json:"dry_run"`
	DeleteFiles     bool   `json:"delete_files"`
	BackupFirst     bool   `json:"backup_first"`
	BackupReference string `json:"backup_reference"`
	Confirm         string `json:"confirm"`
}

type adminActionResponse struct {
	*models.AdminAction
	RowCounts map[string]int64 `json:"row_counts"`
}

func newAdminActionResponse(a *models.AdminAction) adminActionResponse {
	counts, err := a.RowCounts()
	if err != nil {
		counts = map[string]int64{}
	}
	return adminActionResponse{AdminAction: a, RowCounts: counts}
}

// loginHandler issues a token for system admins only. Company users sign in
// through the shop app, not here.
func (api *adminAPI) loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		user, err := models.GetUserByUsername(ctx, api.DB, strings.TrimSpace(req.Username))
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				config.LogError(api.Logger, "server.go", "loginHandler", "GetUserByUsername", req.Username, err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		if !user.IsSystemAdmin() || (user.IsActive != nil && !*user.IsActive) {
			c.JSON(http.StatusForbidden, gin.H{"error": models.ErrUserNotSystemAdmin.Error()})
			return
		}
		token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role), nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID})
	}
}

func (api *adminAPI) resetCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := uintParam(c, "id")
		if !ok {
			return
		}
		req, ok := bindResetRequest(c, companyResetConfirmation)
		if !ok {
			return
		}
		adminUserId, _ := utils.GetAdminUserIdFromContext(c.Request.Context())
		outcome, err := api.Engine.ResetCompanyData(c.Request.Context(), companyId, workflow.ResetOptions{
			DryRun:          req.DryRun,
			DeleteFiles:     req.DeleteFiles,
			AdminUserId:     adminUserId,
			BackupFirst:     req.BackupFirst,
			BackupReference: req.BackupReference,
		})
		writeResetResult(c, outcome, err)
	}
}

func (api *adminAPI) resetSystemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindResetRequest(c, systemResetConfirmation)
		if !ok {
			return
		}
		adminUserId, _ := utils.GetAdminUserIdFromContext(c.Request.Context())
		outcome, err := api.Engine.ResetSystemData(c.Request.Context(), workflow.ResetOptions{
			DryRun:          req.DryRun,
			DeleteFiles:     req.DeleteFiles,
			AdminUserId:     adminUserId,
			BackupFirst:     req.BackupFirst,
			BackupReference: req.BackupReference,
		})
		writeResetResult(c, outcome, err)
	}
}

func (api *adminAPI) backupCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := uintParam(c, "id")
		if !ok {
			return
		}
		if api.Backup == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backup storage is not configured"})
			return
		}
		adminUserId, _ := utils.GetAdminUserIdFromContext(c.Request.Context())
		outcome, err := api.Backup.BackupCompanyData(c.Request.Context(), companyId, adminUserId)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error(), "outcome": outcome})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

func (api *adminAPI) listActionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.AdminActionFilter
		if v := c.Query("action_type"); v != "" {
			t := models.AdminActionType(v)
			if !t.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action_type"})
				return
			}
			filter.ActionType = &t
		}
		if v := c.Query("status"); v != "" {
			s := models.AdminActionStatus(v)
			filter.Status = &s
		}
		if v := c.Query("company_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil || id == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
				return
			}
			companyId := uint(id)
			filter.TargetCompanyId = &companyId
		}
		filter.Limit, _ = strconv.Atoi(c.Query("limit"))
		filter.Offset, _ = strconv.Atoi(c.Query("offset"))

		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		actions, err := models.ListAdminActions(ctx, api.DB, filter)
		if err != nil {
			config.LogError(api.Logger, "server.go", "listActionsHandler", "ListAdminActions", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]adminActionResponse, 0, len(actions))
		for _, a := range actions {
			out = append(out, newAdminActionResponse(a))
		}
		c.JSON(http.StatusOK, gin.H{"actions": out})
	}
}

func (api *adminAPI) getActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		action, err := models.GetAdminAction(ctx, api.DB, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, newAdminActionResponse(action))
	}
}

// backupURLHandler links to the workbook of a backup (or of the backup taken
// before a reset). Remote workbooks get a short-lived signed URL.
func (api *adminAPI) backupURLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		action, err := models.GetAdminAction(ctx, api.DB, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		if action.BackupReference == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "admin action has no backup"})
			return
		}
		kind, key, ok := workflow.ParseBackupReference(*action.BackupReference)
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "backup was taken elsewhere", "backup_reference": *action.BackupReference})
			return
		}
		if kind == models.StorageKindLocal {
			c.JSON(http.StatusOK, gin.H{"storage_kind": kind, "path": key})
			return
		}
		if api.Signer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote backup storage is not configured"})
			return
		}
		signed, err := api.Signer.SignDownload(key, backupURLLifetime)
		if err != nil {
			config.LogError(api.Logger, "server.go", "backupURLHandler", "SignDownload", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"storage_kind": kind, "url": signed.URL, "expires_at": signed.ExpiresAt})
	}
}

func (api *adminAPI) listActionJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		if _, err := models.GetAdminAction(ctx, api.DB, id); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		jobs, err := models.ListResetJobsByAdminAction(ctx, api.DB, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func (api *adminAPI) getJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := uintParam(c, "id")
		if !ok {
			return
		}
		ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
		job, err := models.GetResetJob(ctx, api.DB, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// bindResetRequest rejects destructive runs that were not confirmed with the
// exact phrase. Dry runs need no confirmation.
func bindResetRequest(c *gin.Context, confirmation string) (resetRequest, bool) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return req, false
	}
	if !req.DryRun && req.Confirm != confirmation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirm must be " + confirmation + " for a destructive run"})
		return req, false
	}
	return req, true
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

func writeResetResult(c *gin.Context, outcome *workflow.ResetOutcome, err error) {
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error(), "outcome": outcome})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrCompanyNotFound),
		errors.Is(err, models.ErrAdminActionNotFound),
		errors.Is(err, models.ErrResetJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrResetLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

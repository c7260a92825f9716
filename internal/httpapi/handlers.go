package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"compliance-platform/internal/alerts"
	"compliance-platform/internal/approval"
	"compliance-platform/internal/auth"
	"compliance-platform/internal/doctrine"
	"compliance-platform/internal/impact"
	"compliance-platform/internal/ledger"
	"compliance-platform/internal/reporting"
	"compliance-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Rules     *doctrine.Service
	Approvals *approval.Service
	Ledger    *ledger.Service
	Impact    *impact.Service
	Mediator  *alerts.Mediator
	Reports   *reporting.Service

	// ImpactTimeout bounds synchronous dry-run/blast-radius calls.
	ImpactTimeout time.Duration
}

// statusFor maps the engine's error taxonomy to HTTP statuses.
// Unexpected failures become 500 with no leaked internal detail.
func statusFor(err error) int {
	switch {
	case errors.Is(err, doctrine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, doctrine.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, doctrine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, doctrine.ErrConflict),
		errors.Is(err, doctrine.ErrDuplicateApproval),
		errors.Is(err, doctrine.ErrState):
		return http.StatusConflict
	case errors.Is(err, doctrine.ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func identity(c *gin.Context) (orgID, userID, role string, ok bool) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return "", "", "", false
	}
	userID, err = auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "actor identity required"})
		return "", "", "", false
	}
	role, _ = auth.Role(c.Request.Context())
	return orgID, userID, role, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation happens upstream (the dashboard's identity
// provider); this endpoint exchanges a validated identity for engine tokens.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrgID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, org_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Rules ---

func (h Handlers) CreateRule(c *gin.Context) {
	orgID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req doctrine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, err := h.Rules.Create(c.Request.Context(), orgID, userID, req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h Handlers) ListRules(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	filter := doctrine.RuleFilter{
		OrgID:        orgID,
		ClientID:     c.Query("client_id"),
		Scope:        doctrine.Scope(c.Query("scope")),
		Status:       doctrine.Status(c.Query("status")),
		Jurisdiction: c.Query("jurisdiction"),
		TaxCategory:  c.Query("tax_category"),
		Limit:        intQuery(c, "limit"),
		Offset:       intQuery(c, "offset"),
	}
	rules, err := h.Rules.List(c.Request.Context(), filter)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "limit": filter.Limit, "offset": filter.Offset})
}

func (h Handlers) GetRule(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	ruleID := c.Param("rule_id")

	if v := c.Query("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil || version < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
			return
		}
		rule, err := h.Ledger.Reconstruct(c.Request.Context(), orgID, ruleID, version)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, rule)
		return
	}

	rule, err := h.Rules.Get(c.Request.Context(), orgID, ruleID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type updateRuleRequest struct {
	Reason string               `json:"reason"`
	Patch  doctrine.UpdatePatch `json:"patch"`
}

func (h Handlers) UpdateRule(c *gin.Context) {
	orgID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req updateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, err := h.Rules.Update(c.Request.Context(), orgID, c.Param("rule_id"), userID, req.Reason, req.Patch)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) DisableRule(c *gin.Context) {
	orgID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, err := h.Rules.Disable(c.Request.Context(), orgID, c.Param("rule_id"), userID, req.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type rollbackRequest struct {
	TargetVersion int    `json:"target_version"`
	Reason        string `json:"reason"`
}

func (h Handlers) RollbackRule(c *gin.Context) {
	orgID, userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Reason == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason required"})
		return
	}
	rule, err := h.Rules.Rollback(c.Request.Context(), orgID, c.Param("rule_id"), req.TargetVersion, userID, req.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h Handlers) RuleHistory(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	events, err := h.Ledger.History(c.Request.Context(), orgID, c.Param("rule_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- Approvals ---

type approvalRequest struct {
	Comment string `json:"comment,omitempty"`
}

func (h Handlers) ApproveRule(c *gin.Context) {
	orgID, userID, role, ok := identity(c)
	if !ok {
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Approvals.Approve(c.Request.Context(), orgID, c.Param("rule_id"), userID, role, req.Comment)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) RejectRule(c *gin.Context) {
	orgID, userID, role, ok := identity(c)
	if !ok {
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Approvals.Reject(c.Request.Context(), orgID, c.Param("rule_id"), userID, role, req.Comment)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) ListPendingApprovals(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	pending, err := h.Approvals.ListPending(c.Request.Context(), doctrine.RuleFilter{
		OrgID:        orgID,
		ClientID:     c.Query("client_id"),
		Scope:        doctrine.Scope(c.Query("scope")),
		Jurisdiction: c.Query("jurisdiction"),
		TaxCategory:  c.Query("tax_category"),
		Limit:        intQuery(c, "limit"),
		Offset:       intQuery(c, "offset"),
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (h Handlers) ApprovalStatus(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.Approvals.Status(c.Request.Context(), orgID, c.Param("rule_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Impact ---

func (h Handlers) DryRun(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var draft impact.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx, cancel := h.impactContext(c)
	defer cancel()
	res, err := h.Impact.CalculateImpact(ctx, orgID, draft)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) BlastRadius(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	ctx, cancel := h.impactContext(c)
	defer cancel()
	res, err := h.Impact.BlastRadius(ctx, orgID, c.Param("rule_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) impactContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.ImpactTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// --- Alerts ---

func (h Handlers) EvaluateAlert(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var alert alerts.Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Mediator.ProcessAlert(c.Request.Context(), orgID, alert)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Reports ---

func (h Handlers) GovernanceSummary(c *gin.Context) {
	orgID, _, _, ok := identity(c)
	if !ok {
		return
	}
	summary, err := h.Reports.GovernanceSummary(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func intQuery(c *gin.Context, key string) int {
	v := c.Query(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

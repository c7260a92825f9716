package main

import (
	"compliance-platform/internal/httpapi"
	"compliance-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, metricsHandler gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metricsHandler)

	v1 := r.Group("/v1")

	// AUTH routes (token issuance) sit outside the access-token gate.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(authMW)
	protected.Use(rbac.RequireOrg())
	{
		// RULES routes. Mutations are restricted to governance roles;
		// reads include analysts and the auditor role where flagged.
		rules := protected.Group("/rules")
		{
			write := rules.Group("")
			write.Use(rbac.RequireAnyRole(rbac.RolePartner, rbac.RoleManager))
			{
				write.POST("", h.CreateRule)
				write.PATCH("/:rule_id", h.UpdateRule)
				write.POST("/:rule_id/disable", h.DisableRule)
			}

			// Rollback is partner-only: it rewrites active doctrine.
			rules.POST("/:rule_id/rollback",
				rbac.RequireAnyRole(rbac.RolePartner), h.RollbackRule)

			review := rules.Group("")
			review.Use(rbac.RequireAnyRole(rbac.RolePartner, rbac.RoleManager, rbac.RoleReviewer))
			{
				review.POST("/:rule_id/approve", h.ApproveRule)
				review.POST("/:rule_id/reject", h.RejectRule)
			}

			// Dry-run simulation for an unpersisted draft (read-only;
			// analysts run these from the dashboard).
			rules.POST("/dry-run",
				rbac.RequireAnyRole(rbac.RolePartner, rbac.RoleManager, rbac.RoleReviewer, rbac.RoleAnalyst),
				h.DryRun)

			read := rules.Group("")
			read.Use(rbac.RequireAnyRole(
				rbac.RolePartner, rbac.RoleManager, rbac.RoleReviewer,
				rbac.RoleAnalyst, rbac.RoleComplianceAuditor))
			{
				read.GET("", h.ListRules)
				read.GET("/:rule_id", h.GetRule)
				read.GET("/:rule_id/history", h.RuleHistory)
				read.GET("/:rule_id/approvals", h.ApprovalStatus)
				read.GET("/:rule_id/blast-radius", h.BlastRadius)
			}
		}

		// APPROVAL queue
		protected.GET("/approvals/pending",
			rbac.RequireAnyRole(rbac.RolePartner, rbac.RoleManager, rbac.RoleReviewer),
			h.ListPendingApprovals)

		// ALERTS mediation (called by the monitoring pipeline's service identity)
		protected.POST("/alerts/evaluate",
			rbac.RequireAnyRole(rbac.RolePartner, rbac.RoleManager, rbac.RoleAnalyst),
			h.EvaluateAlert)

		// REPORTS
		protected.GET("/reports/governance-summary",
			rbac.RequireAnyRole(rbac.RolePartner, rbac.RoleManager, rbac.RoleComplianceAuditor),
			h.GovernanceSummary)
	}
}

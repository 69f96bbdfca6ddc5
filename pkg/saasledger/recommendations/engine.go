package recommendations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/metrics"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

// Operation is a workflow verb exposed as POST /recommendations/:id/<operation>
type Operation string

const (
	OpApprove   Operation = "approve"
	OpReject    Operation = "reject"
	OpImplement Operation = "implement"
)

// Transition is one edge of the workflow
type Transition struct {
	From  models.RecommendationStatus
	To    models.RecommendationStatus
	Roles []models.Role
	Audit audit.Action
	// Approval is the decision row appended with the status change, if any
	Approval models.ApprovalAction
}

// Transitions is the complete workflow. Any status/operation pair not
// listed is an invalid state transition.
var Transitions = map[Operation]Transition{
	OpApprove: {
		From:     models.StatusPending,
		To:       models.StatusApproved,
		Roles:    []models.Role{models.RoleAdmin, models.RoleFinance},
		Audit:    audit.ActionApproveRecommendation,
		Approval: models.ApprovalApproved,
	},
	OpReject: {
		From:     models.StatusPending,
		To:       models.StatusRejected,
		Roles:    []models.Role{models.RoleAdmin, models.RoleFinance},
		Audit:    audit.ActionRejectRecommendation,
		Approval: models.ApprovalRejected,
	},
	OpImplement: {
		From:  models.StatusApproved,
		To:    models.StatusImplemented,
		Roles: []models.Role{models.RoleAdmin},
		Audit: audit.ActionImplementRecommendation,
	},
}

// Permits reports whether role may perform the transition
func (t Transition) Permits(role models.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Request asks the engine to move one recommendation
type Request struct {
	Actor            audit.Actor
	Role             models.Role
	RecommendationID uint
	Operation        Operation
	Reason           string
}

// Result is a committed transition
type Result struct {
	Recommendation models.Recommendation
	Audit          *models.AuditLog
}

// Engine applies workflow transitions. The status change, the approval
// row and the audit row commit together or not at all.
type Engine struct {
	db  *gorm.DB
	now func() time.Time
}

// NewEngine creates a workflow engine
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db, now: time.Now}
}

// Apply performs req.Operation on the recommendation. It fails with
// apperr.ErrNotFound when the id does not resolve inside the actor's
// organization and with apperr.ErrInvalidStateTransition when the
// recommendation is not in the transition's source status.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	res, err := e.apply(ctx, req)
	metrics.Transitions.WithLabelValues(string(req.Operation), outcome(err)).Inc()
	return res, err
}

func (e *Engine) apply(ctx context.Context, req Request) (*Result, error) {
	t, ok := Transitions[req.Operation]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("Unknown operation %q", req.Operation))
	}
	if !t.Permits(req.Role) {
		return nil, apperr.New(apperr.ErrForbidden, "Insufficient permissions")
	}

	var res Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Recommendation
		err := tx.Where("id = ? AND saas_app_id IN (?)", req.RecommendationID, models.OrganizationAppIDs(tx, req.Actor.OrganizationID)).
			First(&rec).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Recommendation")
			}
			return err
		}
		if rec.Status != t.From {
			return invalidTransition(req.Operation, rec.Status)
		}

		// compare-and-set so a concurrent transition cannot also succeed
		result := tx.Model(&models.Recommendation{}).
			Where("id = ? AND status = ?", rec.ID, t.From).
			Update("status", t.To)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return invalidTransition(req.Operation, rec.Status)
		}

		if t.Approval != "" {
			approval := models.Approval{
				RecommendationID: rec.ID,
				ApprovedByUserID: req.Actor.UserID,
				ApprovedByName:   req.Actor.Name,
				Action:           t.Approval,
				Reason:           req.Reason,
				Timestamp:        e.now().UTC(),
			}
			if err := tx.Create(&approval).Error; err != nil {
				return err
			}
		}

		if err := tx.Preload("SaaSApp").
			Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp ASC, id ASC") }).
			First(&rec, rec.ID).Error; err != nil {
			return err
		}

		details := map[string]any{
			"title":          rec.Title,
			"savings":        rec.EstimatedAnnualSavings,
			"monthlySavings": rec.EstimatedMonthlySavings,
		}
		if req.Reason != "" {
			details["reason"] = req.Reason
		}
		entry, err := audit.Record(tx, req.Actor, audit.Event{
			Action:     t.Audit,
			EntityType: audit.EntityRecommendation,
			EntityID:   rec.ID,
			Details:    details,
		})
		if err != nil {
			return err
		}

		res = Result{Recommendation: rec, Audit: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func invalidTransition(op Operation, status models.RecommendationStatus) error {
	return apperr.New(apperr.ErrInvalidStateTransition,
		fmt.Sprintf("Cannot %s a recommendation that is %s", op, status))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrInvalidStateTransition):
		return "invalid_state"
	case errors.Is(err, apperr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

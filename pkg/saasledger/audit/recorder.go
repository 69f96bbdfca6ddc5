package audit

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/logging"
	"github.com/mikepea/saasledger/pkg/saasledger/metrics"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor identifies who performed an audited action
type Actor struct {
	UserID         uint
	Name           string
	OrganizationID uint
	IPAddress      string
}

// Event describes what changed
type Event struct {
	Action     Action
	EntityType EntityType
	EntityID   uint
	Details    map[string]any
}

var errIncompleteEntry = errors.New("audit entry requires actor, organization, action and entity type")

// Record appends one audit row through tx. Callers pass the transaction that
// carries the business mutation so that a failed audit write rolls it back.
func Record(tx *gorm.DB, actor Actor, ev Event) (*models.AuditLog, error) {
	if actor.UserID == 0 || actor.OrganizationID == 0 || ev.Action == "" || ev.EntityType == "" {
		return nil, errIncompleteEntry
	}

	details := datatypes.JSONMap{}
	for k, v := range ev.Details {
		details[k] = v
	}

	entry := models.AuditLog{
		OrganizationID: actor.OrganizationID,
		UserID:         actor.UserID,
		UserName:       actor.Name,
		Action:         string(ev.Action),
		EntityType:     string(ev.EntityType),
		EntityID:       strconv.FormatUint(uint64(ev.EntityID), 10),
		Details:        details,
		IPAddress:      actor.IPAddress,
		Timestamp:      time.Now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("record audit %s: %w", ev.Action, err)
	}
	return &entry, nil
}

// Emit reports a committed audit row to the log and metrics.
// Call it only after the surrounding transaction commits.
func Emit(entry *models.AuditLog) {
	metrics.AuditEvents.WithLabelValues(entry.Action).Inc()
	logging.Logger.WithFields(logrus.Fields{
		"audit_id":        entry.ID,
		"action":          entry.Action,
		"entity_type":     entry.EntityType,
		"entity_id":       entry.EntityID,
		"user_id":         entry.UserID,
		"organization_id": entry.OrganizationID,
	}).Info("audit")
}

// Within runs fn and the audit write for the event it returns in one
// transaction. On commit it emits the entry and announces invalidations.
func Within(c *gin.Context, db *gorm.DB, actor Actor, fn func(tx *gorm.DB) (Event, error)) error {
	var entry *models.AuditLog
	err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		ev, err := fn(tx)
		if err != nil {
			return err
		}
		entry, err = Record(tx, actor, ev)
		return err
	})
	if err != nil {
		return err
	}

	Emit(entry)
	Announce(c, Action(entry.Action))
	return nil
}

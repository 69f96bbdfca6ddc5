package audit

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Action is the code stored in AuditLog.Action
type Action string

const (
	ActionLogin                   Action = "LOGIN"
	ActionLogout                  Action = "LOGOUT"
	ActionCreateApp               Action = "CREATE_APP"
	ActionUpdateApp               Action = "UPDATE_APP"
	ActionDeleteApp               Action = "DELETE_APP"
	ActionAssignLicense           Action = "ASSIGN_LICENSE"
	ActionRevokeLicense           Action = "REVOKE_LICENSE"
	ActionApproveRecommendation   Action = "APPROVE_RECOMMENDATION"
	ActionRejectRecommendation    Action = "REJECT_RECOMMENDATION"
	ActionImplementRecommendation Action = "IMPLEMENT_RECOMMENDATION"
	ActionCreateUser              Action = "CREATE_USER"
	ActionUpdateUser              Action = "UPDATE_USER"
	ActionDeleteUser              Action = "DELETE_USER"
	ActionUpdateOrganization      Action = "UPDATE_ORGANIZATION"
)

// EntityType names the table an audit row points at
type EntityType string

const (
	EntitySaaSApp        EntityType = "saas_app"
	EntityLicense        EntityType = "license"
	EntityRecommendation EntityType = "recommendation"
	EntityUser           EntityType = "user"
	EntityOrganization   EntityType = "organization"
)

// Resource is a client-side cache key family
type Resource string

const (
	ResourceApps            Resource = "apps"
	ResourceDashboard       Resource = "dashboard"
	ResourceRecommendations Resource = "recommendations"
	ResourceUsers           Resource = "users"
	ResourceOrganization    Resource = "organization"
)

// HeaderInvalidate lists the resources a successful mutation made stale
const HeaderInvalidate = "X-Invalidate"

// invalidations is the single table deciding which cached resources each
// mutation makes stale. Actions absent here invalidate nothing.
var invalidations = map[Action][]Resource{
	ActionCreateApp:               {ResourceApps, ResourceDashboard},
	ActionUpdateApp:               {ResourceApps, ResourceDashboard},
	ActionDeleteApp:               {ResourceApps, ResourceDashboard},
	ActionAssignLicense:           {ResourceApps, ResourceDashboard},
	ActionRevokeLicense:           {ResourceApps, ResourceDashboard},
	ActionApproveRecommendation:   {ResourceRecommendations, ResourceDashboard},
	ActionRejectRecommendation:    {ResourceRecommendations, ResourceDashboard},
	ActionImplementRecommendation: {ResourceRecommendations, ResourceDashboard},
	ActionCreateUser:              {ResourceUsers},
	ActionUpdateUser:              {ResourceUsers},
	ActionDeleteUser:              {ResourceUsers},
	ActionUpdateOrganization:      {ResourceOrganization},
}

// Invalidates returns the resources made stale by action
func Invalidates(action Action) []Resource {
	return invalidations[action]
}

// Announce sets the invalidation header for a committed action.
// It must run before the response body is written.
func Announce(c *gin.Context, action Action) {
	resources := Invalidates(action)
	if len(resources) == 0 {
		return
	}
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = string(r)
	}
	c.Header(HeaderInvalidate, strings.Join(names, ","))
}

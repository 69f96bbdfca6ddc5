package apps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"github.com/mikepea/saasledger/pkg/saasledger/testutil"
	"gorm.io/gorm"
)

var testTokens = auth.NewTokenManager("test-secret", time.Hour, "saasledger-test")

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db)
	handler.RegisterRoutes(r.Group("/apps", auth.Authenticate(testTokens)))
	return r
}

func getAuthHeader(user models.User) string {
	token, _ := testTokens.Generate(user)
	return "Bearer " + token
}

func doRequest(router *gin.Engine, method, path string, body any, user models.User) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reader = bytes.NewBuffer(jsonBody)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

type fixture struct {
	db      *gorm.DB
	router  *gin.Engine
	org     models.Organization
	admin   models.User
	finance models.User
	owner   models.User
}

func setup(t *testing.T) fixture {
	db := testutil.OpenDB(t)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	return fixture{
		db:      db,
		router:  setupTestRouter(db),
		org:     org,
		admin:   testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin),
		finance: testutil.CreateUser(t, db, org.ID, "finance@acme.com", models.RoleFinance),
		owner:   testutil.CreateUser(t, db, org.ID, "owner@acme.com", models.RoleAppOwner),
	}
}

func validCreateRequest() CreateAppRequest {
	return CreateAppRequest{
		Name:              "Slack",
		Category:          "Communication",
		Vendor:            "Salesforce",
		LicensesPurchased: 100,
		CostPerLicense:    120,
		BillingCycle:      "annual",
		RenewalDate:       "2025-06-01",
		ContractStartDate: "2024-06-01",
		ContractEndDate:   "2025-06-01T00:00:00Z",
	}
}

func TestListApps(t *testing.T) {
	f := setup(t)
	slack := testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")
	testutil.CreateApp(t, f.db, f.org.ID, "Asana", "Project Management")
	testutil.CreateApp(t, f.db, f.org.ID, "Zoom", "Communication")
	testutil.CreateRecommendation(t, f.db, slack.ID, models.StatusPending)

	other := testutil.CreateOrg(t, f.db, "Other", "other.com")
	testutil.CreateApp(t, f.db, other.ID, "Basecamp", "Project Management")

	resp := doRequest(f.router, "GET", "/apps", nil, f.finance)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var apps []AppResponse
	json.Unmarshal(resp.Body.Bytes(), &apps)

	if len(apps) != 3 {
		t.Fatalf("Expected 3 apps, got %d", len(apps))
	}
	if apps[0].Name != "Asana" || apps[1].Name != "Slack" || apps[2].Name != "Zoom" {
		t.Errorf("Expected apps ordered by name, got %s, %s, %s", apps[0].Name, apps[1].Name, apps[2].Name)
	}
	if apps[1].Count == nil || apps[1].Count.Recommendations != 1 {
		t.Errorf("Expected Slack to count 1 recommendation, got %+v", apps[1].Count)
	}
}

func TestListAppsFilters(t *testing.T) {
	f := setup(t)
	testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")
	testutil.CreateApp(t, f.db, f.org.ID, "Asana", "Project Management")
	zoom := testutil.CreateApp(t, f.db, f.org.ID, "Zoom", "Communication")
	f.db.Model(&zoom).Update("status", models.AppStatusInactive)

	cases := []struct {
		query string
		want  []string
	}{
		{"?category=Communication", []string{"Slack", "Zoom"}},
		{"?category=all", []string{"Asana", "Slack", "Zoom"}},
		{"?status=inactive", []string{"Zoom"}},
		{"?search=SLA", []string{"Slack"}},
		{"?search=asana%20inc", []string{"Asana"}},
		{"?category=Communication&status=active", []string{"Slack"}},
	}

	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			resp := doRequest(f.router, "GET", "/apps"+tc.query, nil, f.admin)
			if resp.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", resp.Code)
			}
			var apps []AppResponse
			json.Unmarshal(resp.Body.Bytes(), &apps)

			var names []string
			for _, a := range apps {
				names = append(names, a.Name)
			}
			if fmt.Sprint(names) != fmt.Sprint(tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, names)
			}
		})
	}
}

func TestGetApp(t *testing.T) {
	f := setup(t)
	app := testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")
	testutil.CreateRecommendation(t, f.db, app.ID, models.StatusPending)
	testutil.CreateRecommendation(t, f.db, app.ID, models.StatusImplemented)
	for i := 0; i < 14; i++ {
		month := models.MonthKey(time.Date(2024, time.Month(1+i), 1, 0, 0, 0, 0, time.UTC))
		f.db.Create(&models.UsageMetric{SaaSAppID: app.ID, Month: month, ActiveUsers: i})
	}

	resp := doRequest(f.router, "GET", fmt.Sprintf("/apps/%d", app.ID), nil, f.owner)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var detail AppDetailResponse
	json.Unmarshal(resp.Body.Bytes(), &detail)

	if detail.Name != "Slack" {
		t.Errorf("Expected Slack, got %s", detail.Name)
	}
	if len(detail.UsageMetrics) != 12 {
		t.Fatalf("Expected 12 usage metrics, got %d", len(detail.UsageMetrics))
	}
	if detail.UsageMetrics[0].Month != "2025-02" {
		t.Errorf("Expected newest month first, got %s", detail.UsageMetrics[0].Month)
	}
	if len(detail.Recommendations) != 1 || detail.Recommendations[0].Status != models.StatusPending {
		t.Errorf("Expected only the pending recommendation, got %+v", detail.Recommendations)
	}
	if detail.Licenses == nil {
		t.Error("Expected empty licenses list, got null")
	}
}

func TestGetAppOtherOrganization(t *testing.T) {
	f := setup(t)
	other := testutil.CreateOrg(t, f.db, "Other", "other.com")
	foreign := testutil.CreateApp(t, f.db, other.ID, "Secret", "Security")

	resp := doRequest(f.router, "GET", fmt.Sprintf("/apps/%d", foreign.ID), nil, f.admin)

	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another tenant's app, got %d", resp.Code)
	}
}

func TestGetAppInvalidID(t *testing.T) {
	f := setup(t)

	resp := doRequest(f.router, "GET", "/apps/abc", nil, f.admin)

	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.Code)
	}
}

func TestCreateApp(t *testing.T) {
	f := setup(t)
	req := validCreateRequest()
	req.OwnerUserID = &f.owner.ID

	resp := doRequest(f.router, "POST", "/apps", req, f.admin)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var app AppResponse
	json.Unmarshal(resp.Body.Bytes(), &app)

	if app.OrganizationID != f.org.ID {
		t.Errorf("Expected app in caller's organization, got %d", app.OrganizationID)
	}
	if app.MonthlySpend != 1000 {
		t.Errorf("Expected monthly spend 1000, got %v", app.MonthlySpend)
	}
	if app.LicensesUsed != 0 {
		t.Errorf("Expected licensesUsed 0, got %d", app.LicensesUsed)
	}
	if !app.RenewalDate.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected renewal date %v", app.RenewalDate)
	}
	if got := resp.Header().Get(audit.HeaderInvalidate); got != "apps,dashboard" {
		t.Errorf("Expected invalidation of apps,dashboard, got %q", got)
	}

	var entry models.AuditLog
	if err := f.db.Where("action = ?", "CREATE_APP").First(&entry).Error; err != nil {
		t.Fatalf("Expected CREATE_APP audit row: %v", err)
	}
	if entry.EntityType != "saas_app" || entry.EntityID != fmt.Sprint(app.ID) {
		t.Errorf("Audit row points at %s/%s", entry.EntityType, entry.EntityID)
	}
	if entry.Details["name"] != "Slack" {
		t.Errorf("Expected audit details to carry the name, got %v", entry.Details)
	}
}

func TestCreateAppValidation(t *testing.T) {
	f := setup(t)

	badDate := validCreateRequest()
	badDate.RenewalDate = "next tuesday"

	badCycle := validCreateRequest()
	badCycle.BillingCycle = "weekly"

	reversed := validCreateRequest()
	reversed.ContractStartDate = "2026-01-01"

	foreignOwner := validCreateRequest()
	other := testutil.CreateOrg(t, f.db, "Other", "other.com")
	stranger := testutil.CreateUser(t, f.db, other.ID, "x@other.com", models.RoleAdmin)
	foreignOwner.OwnerUserID = &stranger.ID

	for name, req := range map[string]CreateAppRequest{
		"bad date":      badDate,
		"bad cycle":     badCycle,
		"reversed":      reversed,
		"foreign owner": foreignOwner,
		"missing name":  {Category: "x", RenewalDate: "2025-01-01", ContractStartDate: "2025-01-01", ContractEndDate: "2025-01-01"},
	} {
		t.Run(name, func(t *testing.T) {
			resp := doRequest(f.router, "POST", "/apps", req, f.admin)
			if resp.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
			}
		})
	}

	var count int64
	f.db.Model(&models.SaaSApplication{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected no apps to be created, got %d", count)
	}
	if n := testutil.CountAuditLogs(t, f.db, ""); n != 0 {
		t.Errorf("Expected no audit rows, got %d", n)
	}
}

func TestCreateAppRequiresAdmin(t *testing.T) {
	f := setup(t)

	for _, user := range []models.User{f.finance, f.owner} {
		resp := doRequest(f.router, "POST", "/apps", validCreateRequest(), user)
		if resp.Code != http.StatusForbidden {
			t.Errorf("Expected status 403 for %s, got %d", user.Role, resp.Code)
		}
	}
}

func TestCreateAppRollsBackWhenAuditFails(t *testing.T) {
	f := setup(t)
	testutil.FailAuditWrites(t, f.db)

	resp := doRequest(f.router, "POST", "/apps", validCreateRequest(), f.admin)

	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.Code)
	}
	var count int64
	f.db.Model(&models.SaaSApplication{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected the app insert to be rolled back, found %d apps", count)
	}
	if resp.Header().Get(audit.HeaderInvalidate) != "" {
		t.Error("Expected no invalidation header on failure")
	}
}

func TestUpdateApp(t *testing.T) {
	f := setup(t)
	app := testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")

	body := map[string]any{
		"costPerLicense": 12.5,
		"renewalDate":    "2026-03-01",
		"status":         "pending_review",
	}
	resp := doRequest(f.router, "PATCH", fmt.Sprintf("/apps/%d", app.ID), body, f.owner)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var updated AppResponse
	json.Unmarshal(resp.Body.Bytes(), &updated)

	if updated.CostPerLicense != 12.5 || updated.Status != "pending_review" {
		t.Errorf("Update not applied: %+v", updated)
	}
	if updated.Name != "Slack" {
		t.Errorf("Expected untouched name, got %s", updated.Name)
	}

	var entry models.AuditLog
	f.db.Where("action = ?", "UPDATE_APP").First(&entry)
	if entry.UserID != f.owner.ID {
		t.Errorf("Expected audit actor %d, got %d", f.owner.ID, entry.UserID)
	}
	if entry.Details["status"] != "pending_review" {
		t.Errorf("Expected audit details to list changed status, got %v", entry.Details)
	}
	if _, ok := entry.Details["name"]; ok {
		t.Error("Unsubmitted fields must not appear in audit details")
	}
}

func TestUpdateAppOtherOrganization(t *testing.T) {
	f := setup(t)
	other := testutil.CreateOrg(t, f.db, "Other", "other.com")
	foreign := testutil.CreateApp(t, f.db, other.ID, "Secret", "Security")

	resp := doRequest(f.router, "PATCH", fmt.Sprintf("/apps/%d", foreign.ID), map[string]any{"name": "Mine"}, f.admin)

	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
	var reloaded models.SaaSApplication
	f.db.First(&reloaded, foreign.ID)
	if reloaded.Name != "Secret" {
		t.Error("Foreign app must not be modified")
	}
}

func TestUpdateAppForbiddenForFinance(t *testing.T) {
	f := setup(t)
	app := testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")

	resp := doRequest(f.router, "PATCH", fmt.Sprintf("/apps/%d", app.ID), map[string]any{"name": "X"}, f.finance)

	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
}

func TestDeleteAppForbiddenForFinance(t *testing.T) {
	f := setup(t)
	app := testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")

	resp := doRequest(f.router, "DELETE", fmt.Sprintf("/apps/%d", app.ID), nil, f.finance)

	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}
	if n := testutil.CountAuditLogs(t, f.db, ""); n != 0 {
		t.Errorf("Expected no audit rows, got %d", n)
	}
	var count int64
	f.db.Model(&models.SaaSApplication{}).Where("id = ?", app.ID).Count(&count)
	if count != 1 {
		t.Error("App must not be deleted")
	}
}

func TestDeleteApp(t *testing.T) {
	f := setup(t)
	app := testutil.CreateApp(t, f.db, f.org.ID, "Slack", "Communication")
	rec := testutil.CreateRecommendation(t, f.db, app.ID, models.StatusApproved)
	f.db.Create(&models.Approval{RecommendationID: rec.ID, ApprovedByUserID: f.admin.ID, ApprovedByName: f.admin.Name, Action: models.ApprovalApproved, Timestamp: time.Now()})
	f.db.Create(&models.License{SaaSAppID: app.ID, UserEmail: "a@acme.com", AssignedDate: time.Now()})
	f.db.Create(&models.UsageMetric{SaaSAppID: app.ID, Month: "2025-01"})
	keep := testutil.CreateApp(t, f.db, f.org.ID, "Zoom", "Communication")
	f.db.Create(&models.License{SaaSAppID: keep.ID, UserEmail: "b@acme.com", AssignedDate: time.Now()})

	resp := doRequest(f.router, "DELETE", fmt.Sprintf("/apps/%d", app.ID), nil, f.admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	for name, model := range map[string]any{
		"apps":            &models.SaaSApplication{},
		"licenses":        &models.License{},
		"usage":           &models.UsageMetric{},
		"recommendations": &models.Recommendation{},
		"approvals":       &models.Approval{},
	} {
		var count int64
		f.db.Model(model).Count(&count)
		want := int64(0)
		if name == "apps" || name == "licenses" {
			want = 1
		}
		if count != want {
			t.Errorf("Expected %d %s left, got %d", want, name, count)
		}
	}
	if n := testutil.CountAuditLogs(t, f.db, "DELETE_APP"); n != 1 {
		t.Errorf("Expected 1 DELETE_APP audit row, got %d", n)
	}
}

func TestDeleteAppOtherOrganization(t *testing.T) {
	f := setup(t)
	other := testutil.CreateOrg(t, f.db, "Other", "other.com")
	foreign := testutil.CreateApp(t, f.db, other.ID, "Secret", "Security")

	resp := doRequest(f.router, "DELETE", fmt.Sprintf("/apps/%d", foreign.ID), nil, f.admin)

	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
	if n := testutil.CountAuditLogs(t, f.db, ""); n != 0 {
		t.Errorf("Expected no audit rows, got %d", n)
	}
}

package licenses

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"github.com/mikepea/saasledger/pkg/saasledger/testutil"
	"gorm.io/gorm"
)

var (
	testTokens = auth.NewTokenManager("test-secret", time.Hour, "saasledger-test")
	fixedNow   = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
)

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db)
	handler.now = func() time.Time { return fixedNow }
	handler.RegisterRoutes(r.Group("/licenses", auth.Authenticate(testTokens)))
	return r
}

func doRequest(router *gin.Engine, method, path string, body any, user models.User) *httptest.ResponseRecorder {
	buf := &bytes.Buffer{}
	if body != nil {
		json.NewEncoder(buf).Encode(body)
	}
	token, _ := testTokens.Generate(user)
	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func licensesUsed(t *testing.T, db *gorm.DB, appID uint) int {
	t.Helper()
	var app models.SaaSApplication
	if err := db.First(&app, appID).Error; err != nil {
		t.Fatalf("Failed to reload app: %v", err)
	}
	return app.LicensesUsed
}

func createLicense(t *testing.T, router *gin.Engine, user models.User, appID uint, email string) LicenseResponse {
	t.Helper()
	resp := doRequest(router, "POST", "/licenses", CreateLicenseRequest{SaaSAppID: appID, UserEmail: email, UserName: email}, user)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var license LicenseResponse
	json.Unmarshal(resp.Body.Bytes(), &license)
	return license
}

func TestCreateLicenseIncrementsCounter(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	owner := testutil.CreateUser(t, db, org.ID, "owner@acme.com", models.RoleAppOwner)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")

	resp := doRequest(router, "POST", "/licenses", CreateLicenseRequest{SaaSAppID: app.ID, UserEmail: "jane@acme.com", UserName: "Jane"}, owner)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var license LicenseResponse
	json.Unmarshal(resp.Body.Bytes(), &license)
	if !license.AssignedDate.Equal(fixedNow) {
		t.Errorf("Expected assignedDate to default to now, got %v", license.AssignedDate)
	}
	if !license.Unused {
		t.Error("A never-used seat must be reported unused")
	}
	if got := licensesUsed(t, db, app.ID); got != 1 {
		t.Errorf("Expected licensesUsed 1, got %d", got)
	}
	if got := resp.Header().Get(audit.HeaderInvalidate); got != "apps,dashboard" {
		t.Errorf("Expected invalidation of apps,dashboard, got %q", got)
	}

	var entry models.AuditLog
	if err := db.Where("action = ?", "ASSIGN_LICENSE").First(&entry).Error; err != nil {
		t.Fatalf("Expected ASSIGN_LICENSE audit row: %v", err)
	}
	if entry.EntityType != "license" || entry.EntityID != fmt.Sprint(license.ID) {
		t.Errorf("Audit row points at %s/%s", entry.EntityType, entry.EntityID)
	}
}

func TestCreateLicenseFromUser(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	jane := testutil.CreateUser(t, db, org.ID, "jane@acme.com", models.RoleAppOwner)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")

	resp := doRequest(router, "POST", "/licenses", CreateLicenseRequest{SaaSAppID: app.ID, UserID: &jane.ID}, admin)
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var license LicenseResponse
	json.Unmarshal(resp.Body.Bytes(), &license)
	if license.UserEmail != "jane@acme.com" || license.UserName != jane.Name {
		t.Errorf("Expected user details copied from the user, got %s/%s", license.UserEmail, license.UserName)
	}
}

func TestCreateLicenseRejected(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	finance := testutil.CreateUser(t, db, org.ID, "finance@acme.com", models.RoleFinance)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")
	other := testutil.CreateOrg(t, db, "Other", "other.com")
	foreignApp := testutil.CreateApp(t, db, other.ID, "Secret", "Security")
	stranger := testutil.CreateUser(t, db, other.ID, "x@other.com", models.RoleAdmin)

	cases := []struct {
		name   string
		user   models.User
		body   CreateLicenseRequest
		status int
	}{
		{"finance role", finance, CreateLicenseRequest{SaaSAppID: app.ID, UserEmail: "a@acme.com"}, http.StatusForbidden},
		{"no assignee", admin, CreateLicenseRequest{SaaSAppID: app.ID}, http.StatusBadRequest},
		{"bad email", admin, CreateLicenseRequest{SaaSAppID: app.ID, UserEmail: "nope"}, http.StatusBadRequest},
		{"bad date", admin, CreateLicenseRequest{SaaSAppID: app.ID, UserEmail: "a@acme.com", LastActiveDate: "yesterday"}, http.StatusBadRequest},
		{"foreign app", admin, CreateLicenseRequest{SaaSAppID: foreignApp.ID, UserEmail: "a@acme.com"}, http.StatusNotFound},
		{"foreign user", admin, CreateLicenseRequest{SaaSAppID: app.ID, UserID: &stranger.ID}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(router, "POST", "/licenses", tc.body, tc.user)
			if resp.Code != tc.status {
				t.Errorf("Expected status %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}

	if got := licensesUsed(t, db, app.ID); got != 0 {
		t.Errorf("Expected licensesUsed 0, got %d", got)
	}
	if got := licensesUsed(t, db, foreignApp.ID); got != 0 {
		t.Errorf("Expected foreign licensesUsed 0, got %d", got)
	}
	if n := testutil.CountAuditLogs(t, db, ""); n != 0 {
		t.Errorf("Expected no audit rows, got %d", n)
	}
}

func TestDeleteLicenseDecrementsCounter(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")

	license := createLicense(t, router, admin, app.ID, "jane@acme.com")

	resp := doRequest(router, "DELETE", fmt.Sprintf("/licenses/%d", license.ID), nil, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := licensesUsed(t, db, app.ID); got != 0 {
		t.Errorf("Expected licensesUsed 0, got %d", got)
	}
	if n := testutil.CountAuditLogs(t, db, "REVOKE_LICENSE"); n != 1 {
		t.Errorf("Expected 1 REVOKE_LICENSE audit row, got %d", n)
	}

	resp = doRequest(router, "DELETE", fmt.Sprintf("/licenses/%d", license.ID), nil, admin)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", resp.Code)
	}
	if got := licensesUsed(t, db, app.ID); got != 0 {
		t.Errorf("Expected licensesUsed to stay 0, got %d", got)
	}
}

func TestDeleteLicenseNeverGoesNegative(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")

	// a seat inserted behind the counter's back
	stray := models.License{SaaSAppID: app.ID, UserEmail: "stray@acme.com", AssignedDate: fixedNow}
	db.Create(&stray)

	resp := doRequest(router, "DELETE", fmt.Sprintf("/licenses/%d", stray.ID), nil, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	if got := licensesUsed(t, db, app.ID); got != 0 {
		t.Errorf("Expected licensesUsed to stay at 0, got %d", got)
	}
}

func TestDeleteLicenseOtherOrganization(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	other := testutil.CreateOrg(t, db, "Other", "other.com")
	otherAdmin := testutil.CreateUser(t, db, other.ID, "admin@other.com", models.RoleAdmin)
	foreignApp := testutil.CreateApp(t, db, other.ID, "Secret", "Security")
	license := createLicense(t, router, otherAdmin, foreignApp.ID, "x@other.com")

	resp := doRequest(router, "DELETE", fmt.Sprintf("/licenses/%d", license.ID), nil, admin)

	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
	if got := licensesUsed(t, db, foreignApp.ID); got != 1 {
		t.Errorf("Expected foreign licensesUsed to stay 1, got %d", got)
	}
}

func TestPairedCreateDeleteRestoresCounter(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")
	createLicense(t, router, admin, app.ID, "base@acme.com")
	before := licensesUsed(t, db, app.ID)

	for i := 0; i < 5; i++ {
		license := createLicense(t, router, admin, app.ID, fmt.Sprintf("u%d@acme.com", i))
		resp := doRequest(router, "DELETE", fmt.Sprintf("/licenses/%d", license.ID), nil, admin)
		if resp.Code != http.StatusOK {
			t.Fatalf("Delete %d: expected status 200, got %d", i, resp.Code)
		}
	}

	if got := licensesUsed(t, db, app.ID); got != before {
		t.Errorf("Expected licensesUsed to return to %d, got %d", before, got)
	}
}

func TestConcurrentCreatesDoNotLoseIncrements(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")

	const workers = 20
	var wg sync.WaitGroup
	codes := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := CreateLicenseRequest{SaaSAppID: app.ID, UserEmail: fmt.Sprintf("u%d@acme.com", i)}
			codes <- doRequest(router, "POST", "/licenses", body, admin).Code
		}(i)
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusCreated {
			t.Errorf("Expected status 201, got %d", code)
		}
	}

	var count int64
	db.Model(&models.License{}).Where("saas_app_id = ?", app.ID).Count(&count)
	if got := licensesUsed(t, db, app.ID); int64(got) != count || got != workers {
		t.Errorf("Expected licensesUsed %d to match %d license rows", got, count)
	}
}

func TestCreateLicenseRollsBackWhenAuditFails(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")
	testutil.FailAuditWrites(t, db)

	resp := doRequest(router, "POST", "/licenses", CreateLicenseRequest{SaaSAppID: app.ID, UserEmail: "a@acme.com"}, admin)

	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.Code)
	}
	var count int64
	db.Model(&models.License{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected license insert rolled back, found %d", count)
	}
	if got := licensesUsed(t, db, app.ID); got != 0 {
		t.Errorf("Expected licensesUsed rolled back to 0, got %d", got)
	}
}

func TestListUnused(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	finance := testutil.CreateUser(t, db, org.ID, "finance@acme.com", models.RoleFinance)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")
	other := testutil.CreateOrg(t, db, "Other", "other.com")
	foreignApp := testutil.CreateApp(t, db, other.ID, "Secret", "Security")

	yesterday := fixedNow.AddDate(0, 0, -1)
	stale := fixedNow.AddDate(0, 0, -40)
	seats := []models.License{
		{SaaSAppID: app.ID, UserEmail: "never@acme.com", UserName: "a-never", MonthlyActiveDays: 20},
		{SaaSAppID: app.ID, UserEmail: "stale@acme.com", UserName: "b-stale", LastActiveDate: &stale, MonthlyActiveDays: 10},
		{SaaSAppID: app.ID, UserEmail: "rare@acme.com", UserName: "c-rare", LastActiveDate: &yesterday, MonthlyActiveDays: 2},
		{SaaSAppID: app.ID, UserEmail: "busy@acme.com", UserName: "d-busy", LastActiveDate: &yesterday, MonthlyActiveDays: 10},
		{SaaSAppID: foreignApp.ID, UserEmail: "x@other.com", UserName: "foreign"},
	}
	for i := range seats {
		seats[i].AssignedDate = fixedNow.AddDate(0, -3, 0)
		if err := db.Create(&seats[i]).Error; err != nil {
			t.Fatalf("Failed to create license: %v", err)
		}
	}

	resp := doRequest(router, "GET", "/licenses/unused", nil, finance)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}

	var unused []LicenseResponse
	json.Unmarshal(resp.Body.Bytes(), &unused)

	var emails []string
	for _, l := range unused {
		emails = append(emails, l.UserEmail)
		if !l.Unused {
			t.Errorf("%s listed but not flagged unused", l.UserEmail)
		}
		if l.SaaSApp == nil || l.SaaSApp.Name != "Slack" {
			t.Errorf("Expected owning app summary for %s", l.UserEmail)
		}
	}
	want := []string{"never@acme.com", "stale@acme.com", "rare@acme.com"}
	if fmt.Sprint(emails) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, emails)
	}
}

func TestListByApp(t *testing.T) {
	db := testutil.OpenDB(t)
	router := setupTestRouter(db)
	org := testutil.CreateOrg(t, db, "Acme", "acme.com")
	admin := testutil.CreateUser(t, db, org.ID, "admin@acme.com", models.RoleAdmin)
	app := testutil.CreateApp(t, db, org.ID, "Slack", "Communication")
	createLicense(t, router, admin, app.ID, "zed@acme.com")
	createLicense(t, router, admin, app.ID, "amy@acme.com")
	other := testutil.CreateOrg(t, db, "Other", "other.com")
	foreignApp := testutil.CreateApp(t, db, other.ID, "Secret", "Security")

	resp := doRequest(router, "GET", fmt.Sprintf("/licenses/app/%d", app.ID), nil, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	var list []LicenseResponse
	json.Unmarshal(resp.Body.Bytes(), &list)
	if len(list) != 2 || list[0].UserName != "amy@acme.com" {
		t.Errorf("Expected 2 licenses ordered by user name, got %+v", list)
	}

	resp = doRequest(router, "GET", fmt.Sprintf("/licenses/app/%d", foreignApp.ID), nil, admin)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another tenant's app, got %d", resp.Code)
	}
}

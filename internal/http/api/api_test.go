package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/config"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/security"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Expiry: time.Hour}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Promotion{},
		&models.Transaction{},
		&models.Event{},
		&models.Setting{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	r := gin.New()
	RegisterRoutes(r, conn, testJWT, nil)
	return r, conn
}

func seedAccount(t *testing.T, conn *gorm.DB, utorid, role string, points int, verified bool) *models.User {
	t.Helper()
	hash, errHash := security.HashPassword("Str0ng!pass")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	user := models.User{
		Utorid:   utorid,
		Name:     strings.ToUpper(utorid),
		Email:    utorid + "@mail.utoronto.ca",
		Password: hash,
		Role:     role,
		Points:   points,
		Verified: verified,
	}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed %s: %v", utorid, err)
	}
	return &user
}

func tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, _, err := security.IssueUserToken(testJWT, user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			t.Fatalf("marshal: %v", errMarshal)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestLoginAndMe(t *testing.T) {
	r, conn := newTestRouter(t)
	seedAccount(t, conn, "member01", models.RoleRegular, 120, false)

	rec := doJSON(t, r, http.MethodPost, "/auth/tokens", "", gin.H{
		"utorid": "member01", "password": "Str0ng!pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("login should return a token")
	}

	rec = doJSON(t, r, http.MethodGet, "/users/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["utorid"] != "member01" || body["points"] != float64(120) {
		t.Fatalf("unexpected me payload: %v", body)
	}

	rec = doJSON(t, r, http.MethodPost, "/auth/tokens", "", gin.H{
		"utorid": "member01", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", rec.Code)
	}
}

func TestPurchaseEndpointRoleGate(t *testing.T) {
	r, conn := newTestRouter(t)
	member := seedAccount(t, conn, "member01", models.RoleRegular, 0, false)
	cashier := seedAccount(t, conn, "cashier1", models.RoleCashier, 0, false)

	payload := gin.H{"utorid": "member01", "type": "purchase", "spent": 19.99}

	rec := doJSON(t, r, http.MethodPost, "/transactions", tokenFor(t, member), payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("regular caller status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/transactions", tokenFor(t, cashier), payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("cashier status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["earned"] != float64(80) {
		t.Fatalf("earned = %v, want 80", body["earned"])
	}

	var reloaded models.User
	if err := conn.Where("utorid = ?", "member01").First(&reloaded).Error; err != nil {
		t.Fatalf("reload member: %v", err)
	}
	if reloaded.Points != 80 {
		t.Fatalf("points = %d, want 80", reloaded.Points)
	}
}

func TestRedemptionFlowOverHTTP(t *testing.T) {
	r, conn := newTestRouter(t)
	member := seedAccount(t, conn, "member01", models.RoleRegular, 300, false)
	cashier := seedAccount(t, conn, "cashier1", models.RoleCashier, 0, false)

	rec := doJSON(t, r, http.MethodPost, "/users/me/transactions", tokenFor(t, member), gin.H{
		"type": "redemption", "amount": 200,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	id := uint64(decodeBody(t, rec)["id"].(float64))

	path := fmt.Sprintf("/transactions/%d/processed", id)
	rec = doJSON(t, r, http.MethodPatch, path, tokenFor(t, cashier), gin.H{"processed": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("process status = %d, body %s", rec.Code, rec.Body.String())
	}

	var reloaded models.User
	if err := conn.Where("utorid = ?", "member01").First(&reloaded).Error; err != nil {
		t.Fatalf("reload member: %v", err)
	}
	if reloaded.Points != 100 {
		t.Fatalf("points = %d, want 100", reloaded.Points)
	}

	rec = doJSON(t, r, http.MethodPatch, path, tokenFor(t, cashier), gin.H{"processed": true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double process status = %d, want 409", rec.Code)
	}
}

func TestTransferOverHTTP(t *testing.T) {
	r, conn := newTestRouter(t)
	sender := seedAccount(t, conn, "sender01", models.RoleRegular, 250, true)
	recipient := seedAccount(t, conn, "recip001", models.RoleRegular, 0, false)

	path := fmt.Sprintf("/users/%d/transactions", recipient.ID)
	rec := doJSON(t, r, http.MethodPost, path, tokenFor(t, sender), gin.H{
		"type": "transfer", "amount": 100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer status = %d, body %s", rec.Code, rec.Body.String())
	}

	var reloadedSender, reloadedRecipient models.User
	if err := conn.Where("utorid = ?", "sender01").First(&reloadedSender).Error; err != nil {
		t.Fatalf("reload sender: %v", err)
	}
	if err := conn.Where("utorid = ?", "recip001").First(&reloadedRecipient).Error; err != nil {
		t.Fatalf("reload recipient: %v", err)
	}
	if reloadedSender.Points != 150 || reloadedRecipient.Points != 100 {
		t.Fatalf("balances = %d/%d, want 150/100", reloadedSender.Points, reloadedRecipient.Points)
	}
}

func TestPromotionVisibility(t *testing.T) {
	r, conn := newTestRouter(t)
	member := seedAccount(t, conn, "member01", models.RoleRegular, 0, false)
	manager := seedAccount(t, conn, "manager1", models.RoleManager, 0, false)

	now := time.Now().UTC()
	active := models.Promotion{
		Name: "active", Description: "d", Type: models.PromotionAutomatic,
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
	}
	upcoming := models.Promotion{
		Name: "upcoming", Description: "d", Type: models.PromotionAutomatic,
		StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour),
	}
	if err := conn.Create(&active).Error; err != nil {
		t.Fatalf("seed active: %v", err)
	}
	if err := conn.Create(&upcoming).Error; err != nil {
		t.Fatalf("seed upcoming: %v", err)
	}

	rec := doJSON(t, r, http.MethodGet, "/promotions", tokenFor(t, member), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member list status = %d", rec.Code)
	}
	if decodeBody(t, rec)["count"] != float64(1) {
		t.Fatalf("member should see 1 promotion, got %v", decodeBody(t, rec)["count"])
	}

	rec = doJSON(t, r, http.MethodGet, "/promotions", tokenFor(t, manager), nil)
	if decodeBody(t, rec)["count"] != float64(2) {
		t.Fatalf("manager should see 2 promotions, got %v", decodeBody(t, rec)["count"])
	}

	path := fmt.Sprintf("/promotions/%d", upcoming.ID)
	rec = doJSON(t, r, http.MethodGet, path, tokenFor(t, member), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("member get upcoming status = %d, want 404", rec.Code)
	}
}

func TestRegisterRequiresCashier(t *testing.T) {
	r, conn := newTestRouter(t)
	member := seedAccount(t, conn, "member01", models.RoleRegular, 0, false)
	cashier := seedAccount(t, conn, "cashier1", models.RoleCashier, 0, false)

	payload := gin.H{"utorid": "newuser1", "name": "New User", "email": "new.user@mail.utoronto.ca"}

	rec := doJSON(t, r, http.MethodPost, "/users", tokenFor(t, member), payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("regular register status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/users", tokenFor(t, cashier), payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("cashier register status = %d, body %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["resetToken"] == "" {
		t.Fatal("registration should return an activation token")
	}

	rec = doJSON(t, r, http.MethodPost, "/users", tokenFor(t, cashier), payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", rec.Code)
	}
}

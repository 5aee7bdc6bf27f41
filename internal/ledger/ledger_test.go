package ledger

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
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
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return New(conn)
}

func seedUser(t *testing.T, e *Engine, utorid string, points int, verified bool) *models.User {
	t.Helper()
	user := models.User{
		Utorid:   utorid,
		Name:     strings.ToUpper(utorid),
		Email:    utorid + "@mail.example.com",
		Password: "x",
		Role:     models.RoleRegular,
		Points:   points,
		Verified: verified,
	}
	if err := e.conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user %s: %v", utorid, err)
	}
	return &user
}

func balanceOf(t *testing.T, e *Engine, utorid string) int {
	t.Helper()
	var user models.User
	if err := e.conn.Where("utorid = ?", utorid).First(&user).Error; err != nil {
		t.Fatalf("load user %s: %v", utorid, err)
	}
	return user.Points
}

func seedPromotion(t *testing.T, e *Engine, promo models.Promotion) *models.Promotion {
	t.Helper()
	if promo.StartTime.IsZero() {
		promo.StartTime = time.Now().Add(-time.Hour)
	}
	if promo.EndTime.IsZero() {
		promo.EndTime = time.Now().Add(time.Hour)
	}
	if promo.Name == "" {
		promo.Name = "promo"
	}
	if promo.Description == "" {
		promo.Description = "test promotion"
	}
	if err := e.conn.Create(&promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}
	return &promo
}

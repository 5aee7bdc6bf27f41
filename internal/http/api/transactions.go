package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	internaldb "github.com/campusloop/loyalty/internal/db"
	"github.com/campusloop/loyalty/internal/ledger"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/roles"
)

// TransactionHandler serves the ledger endpoints.
type TransactionHandler struct {
	db     *gorm.DB       // Database handle for ledger queries.
	engine *ledger.Engine // Transaction engine for point movement.
}

// NewTransactionHandler constructs a transaction handler.
func NewTransactionHandler(db *gorm.DB, engine *ledger.Engine) *TransactionHandler {
	return &TransactionHandler{db: db, engine: engine}
}

// respondLedgerError maps a ledger error kind onto the HTTP response.
func respondLedgerError(c *gin.Context, err error) {
	status := ledger.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("ledger operation failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// formatTransaction renders a ledger row for API responses.
func formatTransaction(row *models.Transaction) gin.H {
	out := gin.H{
		"id":         row.ID,
		"type":       row.Type,
		"utorid":     row.Utorid,
		"amount":     row.Amount,
		"suspicious": row.Suspicious,
		"remark":     row.Remark,
		"createdBy":  row.CreatedBy,
		"createdAt":  row.CreatedAt.UTC().Format(time.RFC3339),
	}
	if row.Spent != nil {
		out["spent"] = *row.Spent
	}
	if row.Earned != nil {
		out["earned"] = *row.Earned
	}
	if row.Sent != nil {
		out["sent"] = *row.Sent
	}
	if row.Redeemed != nil {
		out["redeemed"] = *row.Redeemed
	}
	if row.RelatedID != nil {
		out["relatedId"] = *row.RelatedID
	}
	if row.Sender != "" {
		out["sender"] = row.Sender
	}
	if row.Recipient != "" {
		out["recipient"] = row.Recipient
	}
	if row.ProcessedBy != nil {
		out["processedBy"] = *row.ProcessedBy
	}
	if len(row.Promotions) > 0 {
		out["promotionIds"] = row.PromotionIDs()
	}
	return out
}

// parsePagination reads page/limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int, error) {
	page := 1
	limit := 10
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = parsed
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 || parsed > 100 {
			return 0, 0, fmt.Errorf("limit must be 1-100")
		}
		limit = parsed
	}
	return page, limit, nil
}

// listTransactions serves both the audit listing and the self-service
// listing; owner narrows the query to one utorid.
func listTransactions(c *gin.Context, conn *gorm.DB, owner *string) {
	q := conn.WithContext(c.Request.Context()).Model(&models.Transaction{})

	if owner != nil {
		q = q.Where("utorid = ?", *owner)
	} else if name := strings.TrimSpace(c.Query("name")); name != "" {
		pattern := internaldb.NormalizeLikePattern(conn, "%"+name+"%")
		q = q.Where(internaldb.CaseInsensitiveLikeExpr(conn, "utorid"), pattern)
	}
	if createdBy := strings.TrimSpace(c.Query("createdBy")); createdBy != "" && owner == nil {
		q = q.Where("created_by = ?", createdBy)
	}
	if suspicious := strings.TrimSpace(c.Query("suspicious")); suspicious != "" {
		q = q.Where("suspicious = ?", suspicious == "true" || suspicious == "1")
	}
	if typeQ := strings.TrimSpace(c.Query("type")); typeQ != "" {
		q = q.Where("type = ?", typeQ)
		if relatedQ := strings.TrimSpace(c.Query("relatedId")); relatedQ != "" {
			relatedID, errParse := strconv.ParseUint(relatedQ, 10, 64)
			if errParse != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid relatedId"})
				return
			}
			q = q.Where("related_id = ?", relatedID)
		}
	} else if strings.TrimSpace(c.Query("relatedId")) != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "relatedId requires type"})
		return
	}
	if promotionQ := strings.TrimSpace(c.Query("promotionId")); promotionQ != "" {
		promotionID, errParse := strconv.ParseUint(promotionQ, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid promotionId"})
			return
		}
		q = q.Where("id IN (SELECT transaction_id FROM transaction_promotions WHERE promotion_id = ?)", promotionID)
	}
	if amountQ := strings.TrimSpace(c.Query("amount")); amountQ != "" {
		amount, errParse := strconv.Atoi(amountQ)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		switch strings.TrimSpace(c.Query("operator")) {
		case "gte":
			q = q.Where("amount >= ?", amount)
		case "lte":
			q = q.Where("amount <= ?", amount)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "operator must be gte or lte"})
			return
		}
	}

	page, limit, errPage := parsePagination(c)
	if errPage != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errPage.Error()})
		return
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	var rows []models.Transaction
	if errFind := q.Preload("Promotions").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}

	results := make([]gin.H, 0, len(rows))
	for i := range rows {
		results = append(results, formatTransaction(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": results})
}

// createTransactionRequest captures the cashier/manager payload for
// purchases and adjustments.
type createTransactionRequest struct {
	Utorid       string   `json:"utorid"`       // Target user handle.
	Type         string   `json:"type"`         // purchase or adjustment.
	Spent        *float64 `json:"spent"`        // Purchase: currency spent.
	Amount       *int     `json:"amount"`       // Adjustment: signed point delta.
	RelatedID    *uint64  `json:"relatedId"`    // Adjustment: audited transaction.
	PromotionIDs []uint64 `json:"promotionIds"` // Purchase: promotions to apply.
	Remark       string   `json:"remark"`       // Optional note.
}

// Create records a purchase (cashier+) or an adjustment (manager+).
func (h *TransactionHandler) Create(c *gin.Context) {
	var body createTransactionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	actor := currentUser(c)

	switch body.Type {
	case models.TransactionPurchase:
		if body.Spent == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "spent is required for purchases"})
			return
		}
		row, errCreate := h.engine.CreatePurchase(c.Request.Context(), ledger.PurchaseInput{
			CreatedBy:         actor.Utorid,
			CreatorSuspicious: actor.Suspicious,
			Utorid:            body.Utorid,
			Spent:             *body.Spent,
			PromotionIDs:      body.PromotionIDs,
			Remark:            body.Remark,
		})
		if errCreate != nil {
			respondLedgerError(c, errCreate)
			return
		}
		c.JSON(http.StatusCreated, formatTransaction(row))

	case models.TransactionAdjustment:
		if !roles.CanAdjust(currentLevel(c)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient clearance"})
			return
		}
		if body.Amount == nil || body.RelatedID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount and relatedId are required for adjustments"})
			return
		}
		row, errCreate := h.engine.CreateAdjustment(c.Request.Context(), ledger.AdjustmentInput{
			CreatedBy: actor.Utorid,
			Utorid:    body.Utorid,
			Amount:    *body.Amount,
			RelatedID: *body.RelatedID,
			Remark:    body.Remark,
		})
		if errCreate != nil {
			respondLedgerError(c, errCreate)
			return
		}
		c.JSON(http.StatusCreated, formatTransaction(row))

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be purchase or adjustment"})
	}
}

// List returns ledger rows for auditors.
func (h *TransactionHandler) List(c *gin.Context) {
	listTransactions(c, h.db, nil)
}

// Get returns one ledger row.
func (h *TransactionHandler) Get(c *gin.Context) {
	id, errParse := parseTransactionID(c)
	if errParse != nil {
		return
	}
	var row models.Transaction
	if errFind := h.db.WithContext(c.Request.Context()).Preload("Promotions").
		Where("id = ?", id).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatTransaction(&row))
}

// suspiciousRequest captures the suspicious toggle payload.
type suspiciousRequest struct {
	Suspicious *bool `json:"suspicious"` // Desired flag value.
}

// SetSuspicious toggles a purchase's suspicious flag.
func (h *TransactionHandler) SetSuspicious(c *gin.Context) {
	id, errParse := parseTransactionID(c)
	if errParse != nil {
		return
	}
	var body suspiciousRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Suspicious == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "suspicious is required"})
		return
	}
	row, errToggle := h.engine.SetSuspicious(c.Request.Context(), id, *body.Suspicious)
	if errToggle != nil {
		respondLedgerError(c, errToggle)
		return
	}
	c.JSON(http.StatusOK, formatTransaction(row))
}

// Process fulfils a pending redemption.
func (h *TransactionHandler) Process(c *gin.Context) {
	id, errParse := parseTransactionID(c)
	if errParse != nil {
		return
	}
	var body struct {
		Processed *bool `json:"processed"` // Must be true.
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Processed == nil || !*body.Processed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "processed must be true"})
		return
	}
	row, errProcess := h.engine.ProcessRedemption(c.Request.Context(), currentUser(c).Utorid, id)
	if errProcess != nil {
		respondLedgerError(c, errProcess)
		return
	}
	c.JSON(http.StatusOK, formatTransaction(row))
}

// remarkRequest captures the remark edit payload.
type remarkRequest struct {
	Remark *string `json:"remark"` // Replacement note.
}

// UpdateRemark replaces a transaction's note.
func (h *TransactionHandler) UpdateRemark(c *gin.Context) {
	id, errParse := parseTransactionID(c)
	if errParse != nil {
		return
	}
	var body remarkRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Remark == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remark is required"})
		return
	}
	row, errUpdate := h.engine.UpdateRemark(c.Request.Context(), id, *body.Remark)
	if errUpdate != nil {
		respondLedgerError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, formatTransaction(row))
}

// Delete removes a ledger row without reversing its balance effect.
func (h *TransactionHandler) Delete(c *gin.Context) {
	id, errParse := parseTransactionID(c)
	if errParse != nil {
		return
	}
	if errDelete := h.engine.DeleteTransaction(c.Request.Context(), id); errDelete != nil {
		respondLedgerError(c, errDelete)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reconcile reports users whose balances drift from their history.
func (h *TransactionHandler) Reconcile(c *gin.Context) {
	drifts, errReconcile := h.engine.Reconcile(c.Request.Context())
	if errReconcile != nil {
		respondLedgerError(c, errReconcile)
		return
	}
	out := make([]gin.H, 0, len(drifts))
	for _, drift := range drifts {
		out = append(out, gin.H{
			"utorid":   drift.Utorid,
			"stored":   drift.Stored,
			"computed": drift.Computed,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "drifts": out})
}

func parseTransactionID(c *gin.Context) (uint64, error) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("transactionId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return 0, errParse
	}
	return id, nil
}

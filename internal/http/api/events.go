package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/ledger"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/roles"
)

// EventHandler serves event endpoints including the point-award side.
type EventHandler struct {
	db     *gorm.DB       // Database handle for event records.
	engine *ledger.Engine // Transaction engine for point awards.
}

// NewEventHandler constructs an event handler.
func NewEventHandler(db *gorm.DB, engine *ledger.Engine) *EventHandler {
	return &EventHandler{db: db, engine: engine}
}

// formatEvent renders an event for API responses. Organizer-level
// callers also see the point budget.
func formatEvent(event *models.Event, full bool) gin.H {
	organizers := make([]gin.H, 0, len(event.Organizers))
	for i := range event.Organizers {
		organizers = append(organizers, gin.H{
			"id":     event.Organizers[i].ID,
			"utorid": event.Organizers[i].Utorid,
			"name":   event.Organizers[i].Name,
		})
	}
	out := gin.H{
		"id":          event.ID,
		"name":        event.Name,
		"description": event.Description,
		"location":    event.Location,
		"startTime":   event.StartTime.UTC().Format(time.RFC3339),
		"endTime":     event.EndTime.UTC().Format(time.RFC3339),
		"numGuests":   len(event.Guests),
		"organizers":  organizers,
	}
	if event.Capacity != nil {
		out["capacity"] = *event.Capacity
	}
	if full {
		guests := make([]gin.H, 0, len(event.Guests))
		for i := range event.Guests {
			guests = append(guests, gin.H{
				"id":     event.Guests[i].ID,
				"utorid": event.Guests[i].Utorid,
				"name":   event.Guests[i].Name,
			})
		}
		out["guests"] = guests
		out["pointsRemain"] = event.PointsRemain
		out["pointsAwarded"] = event.PointsAwarded
		out["published"] = event.Published
	}
	return out
}

// canManageEvent reports whether the caller may edit the event.
func canManageEvent(c *gin.Context, event *models.Event) bool {
	if roles.CanManageEvents(currentLevel(c)) {
		return true
	}
	user := currentUser(c)
	return user != nil && event.HasOrganizer(user.Utorid)
}

// eventRequest captures the payload for creating an event.
type eventRequest struct {
	Name        string `json:"name"`        // Event name.
	Description string `json:"description"` // Event description.
	Location    string `json:"location"`    // Event location.
	StartTime   string `json:"startTime"`   // RFC3339 start.
	EndTime     string `json:"endTime"`     // RFC3339 end.
	Capacity    *int   `json:"capacity"`    // Optional guest cap.
	Points      int    `json:"points"`      // Initial point budget.
}

// Create validates input and inserts an event.
func (h *EventHandler) Create(c *gin.Context) {
	var body eventRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	body.Description = strings.TrimSpace(body.Description)
	body.Location = strings.TrimSpace(body.Location)

	if body.Name == "" || body.Description == "" || body.Location == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, description, and location are required"})
		return
	}
	startTime, errStart := time.Parse(time.RFC3339, body.StartTime)
	if errStart != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime format, use RFC3339"})
		return
	}
	endTime, errEnd := time.Parse(time.RFC3339, body.EndTime)
	if errEnd != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime format, use RFC3339"})
		return
	}
	if !endTime.After(startTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endTime must be after startTime"})
		return
	}
	if body.Capacity != nil && *body.Capacity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "capacity must be positive"})
		return
	}
	if body.Points <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points must be positive"})
		return
	}

	event := models.Event{
		Name:         body.Name,
		Description:  body.Description,
		Location:     body.Location,
		StartTime:    startTime.UTC(),
		EndTime:      endTime.UTC(),
		Capacity:     body.Capacity,
		PointsRemain: body.Points,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&event).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create event failed"})
		return
	}
	c.JSON(http.StatusCreated, formatEvent(&event, true))
}

// List returns events. Regular callers see only published ones.
func (h *EventHandler) List(c *gin.Context) {
	manager := roles.CanManageEvents(currentLevel(c))
	q := h.db.WithContext(c.Request.Context()).Model(&models.Event{})

	if !manager {
		q = q.Where("published = ?", true)
	} else if published := strings.TrimSpace(c.Query("published")); published != "" {
		q = q.Where("published = ?", published == "true" || published == "1")
	}
	now := time.Now().UTC()
	if started := strings.TrimSpace(c.Query("started")); started != "" {
		if started == "true" || started == "1" {
			q = q.Where("start_time <= ?", now)
		} else {
			q = q.Where("start_time > ?", now)
		}
	}
	if ended := strings.TrimSpace(c.Query("ended")); ended != "" {
		if ended == "true" || ended == "1" {
			q = q.Where("end_time < ?", now)
		} else {
			q = q.Where("end_time >= ?", now)
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
	var rows []models.Event
	if errFind := q.Preload("Organizers").Preload("Guests").
		Order("id").Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}

	results := make([]gin.H, 0, len(rows))
	for i := range rows {
		results = append(results, formatEvent(&rows[i], manager))
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": results})
}

// Get returns one event. Unpublished events are visible only to
// managers and the event's organizers.
func (h *EventHandler) Get(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	full := canManageEvent(c, event)
	if !event.Published && !full {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, formatEvent(event, full))
}

// updateEventRequest captures optional event field updates.
type updateEventRequest struct {
	Name        *string `json:"name"`        // Optional name.
	Description *string `json:"description"` // Optional description.
	Location    *string `json:"location"`    // Optional location.
	StartTime   *string `json:"startTime"`   // Optional RFC3339 start.
	EndTime     *string `json:"endTime"`     // Optional RFC3339 end.
	Capacity    *int    `json:"capacity"`    // Optional guest cap.
	Points      *int    `json:"points"`      // Optional budget change (manager only).
	Published   *bool   `json:"published"`   // Optional publish flag (manager only).
}

// Update applies edits to an event by a manager or organizer.
func (h *EventHandler) Update(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	if !canManageEvent(c, event) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient clearance"})
		return
	}
	var body updateEventRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	manager := roles.CanManageEvents(currentLevel(c))
	now := time.Now().UTC()
	updates := map[string]any{}

	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if body.Location != nil {
		updates["location"] = strings.TrimSpace(*body.Location)
	}
	if body.StartTime != nil {
		startTime, errParse := time.Parse(time.RFC3339, *body.StartTime)
		if errParse != nil || startTime.Before(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "startTime must be a future RFC3339 time"})
			return
		}
		updates["start_time"] = startTime.UTC()
	}
	if body.EndTime != nil {
		endTime, errParse := time.Parse(time.RFC3339, *body.EndTime)
		if errParse != nil || endTime.Before(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endTime must be a future RFC3339 time"})
			return
		}
		updates["end_time"] = endTime.UTC()
	}
	if body.Capacity != nil {
		if *body.Capacity <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capacity must be positive"})
			return
		}
		if len(event.Guests) > *body.Capacity {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capacity below current guest count"})
			return
		}
		updates["capacity"] = *body.Capacity
	}
	if body.Points != nil {
		if !manager {
			c.JSON(http.StatusForbidden, gin.H{"error": "only managers adjust the point budget"})
			return
		}
		// The budget floor is what has already been awarded.
		remain := *body.Points - event.PointsAwarded
		if remain < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "points below amount already awarded"})
			return
		}
		updates["points_remain"] = remain
	}
	if body.Published != nil {
		if !manager {
			c.JSON(http.StatusForbidden, gin.H{"error": "only managers publish events"})
			return
		}
		if !*body.Published {
			c.JSON(http.StatusBadRequest, gin.H{"error": "published can only be set to true"})
			return
		}
		updates["published"] = true
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if errSave := h.db.WithContext(c.Request.Context()).Model(event).Updates(updates).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	reloaded, ok := h.loadEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatEvent(reloaded, true))
}

// Delete removes an unpublished event.
func (h *EventHandler) Delete(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	if event.Published {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete a published event"})
		return
	}
	if errClear := h.db.WithContext(c.Request.Context()).Model(event).Association("Organizers").Clear(); errClear != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if errClear := h.db.WithContext(c.Request.Context()).Model(event).Association("Guests").Clear(); errClear != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).Delete(event).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// rosterRequest captures the payload for adding a user to a roster.
type rosterRequest struct {
	Utorid string `json:"utorid"` // User handle to add.
}

// AddOrganizer adds a user to the event's organizer roster.
func (h *EventHandler) AddOrganizer(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var body rosterRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user, ok := h.findUser(c, strings.TrimSpace(body.Utorid))
	if !ok {
		return
	}
	if event.HasGuest(user.Utorid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is already a guest"})
		return
	}
	if event.HasOrganizer(user.Utorid) {
		c.JSON(http.StatusConflict, gin.H{"error": "user is already an organizer"})
		return
	}
	if errAppend := h.db.WithContext(c.Request.Context()).Model(event).Association("Organizers").Append(user); errAppend != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add organizer failed"})
		return
	}
	reloaded, ok := h.loadEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, formatEvent(reloaded, true))
}

// RemoveOrganizer removes a user from the organizer roster.
func (h *EventHandler) RemoveOrganizer(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	userID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("userId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if !event.HasOrganizer(user.Utorid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not an organizer"})
		return
	}
	if errRemove := h.db.WithContext(c.Request.Context()).Model(event).Association("Organizers").Delete(&user); errRemove != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove organizer failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// AddGuest adds a user to the guest list (manager or organizer).
func (h *EventHandler) AddGuest(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	if !canManageEvent(c, event) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient clearance"})
		return
	}
	var body rosterRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	user, ok := h.findUser(c, strings.TrimSpace(body.Utorid))
	if !ok {
		return
	}
	h.addGuest(c, event, user)
}

// RSVP adds the caller to a published event's guest list.
func (h *EventHandler) RSVP(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	if !event.Published {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if time.Now().After(event.EndTime) {
		c.JSON(http.StatusGone, gin.H{"error": "event has ended"})
		return
	}
	h.addGuest(c, event, currentUser(c))
}

func (h *EventHandler) addGuest(c *gin.Context, event *models.Event, user *models.User) {
	if event.HasOrganizer(user.Utorid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is already an organizer"})
		return
	}
	if event.HasGuest(user.Utorid) {
		c.JSON(http.StatusConflict, gin.H{"error": "user is already a guest"})
		return
	}
	if event.Capacity != nil && len(event.Guests) >= *event.Capacity {
		c.JSON(http.StatusGone, gin.H{"error": "event is full"})
		return
	}
	if errAppend := h.db.WithContext(c.Request.Context()).Model(event).Association("Guests").Append(user); errAppend != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add guest failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        event.ID,
		"numGuests": len(event.Guests) + 1,
		"guestAdded": gin.H{
			"id":     user.ID,
			"utorid": user.Utorid,
			"name":   user.Name,
		},
	})
}

// RemoveGuest removes a user from the guest list.
func (h *EventHandler) RemoveGuest(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	userID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("userId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", userID).First(&user).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if !event.HasGuest(user.Utorid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not a guest"})
		return
	}
	if errRemove := h.db.WithContext(c.Request.Context()).Model(event).Association("Guests").Delete(&user); errRemove != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove guest failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// awardRequest captures the point-award payload.
type awardRequest struct {
	Type   string  `json:"type"`   // Must be "event".
	Utorid *string `json:"utorid"` // Single recipient; nil broadcasts.
	Amount int     `json:"amount"` // Points per recipient.
	Remark string  `json:"remark"` // Optional note.
}

// Award distributes points from the event's budget.
func (h *EventHandler) Award(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	if !canManageEvent(c, event) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient clearance"})
		return
	}
	var body awardRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Type != models.TransactionEvent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be event"})
		return
	}

	rows, errAward := h.engine.AwardEventPoints(c.Request.Context(), ledger.AwardEventInput{
		CreatedBy: currentUser(c).Utorid,
		EventID:   event.ID,
		Utorid:    body.Utorid,
		Amount:    body.Amount,
		Remark:    body.Remark,
	})
	if errAward != nil {
		respondLedgerError(c, errAward)
		return
	}

	results := make([]gin.H, 0, len(rows))
	for i := range rows {
		results = append(results, formatTransaction(&rows[i]))
	}
	c.JSON(http.StatusCreated, gin.H{"count": len(results), "results": results})
}

// loadEvent fetches the event in the path with its rosters.
func (h *EventHandler) loadEvent(c *gin.Context) (*models.Event, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("eventId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return nil, false
	}
	var event models.Event
	if errFind := h.db.WithContext(c.Request.Context()).
		Preload("Organizers").Preload("Guests").
		Where("id = ?", id).First(&event).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &event, true
}

// findUser fetches a user by handle for roster operations.
func (h *EventHandler) findUser(c *gin.Context, utorid string) (*models.User, bool) {
	if utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return nil, false
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("utorid = ?", utorid).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &user, true
}

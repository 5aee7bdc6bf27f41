package models

import "time"

// Event is an organizer-run happening with a capped point budget that
// organizers distribute to guests.
type Event struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(255);not null"` // Event name.
	Description string `gorm:"type:text;not null"`         // Event description.
	Location    string `gorm:"type:varchar(255);not null"` // Event location.

	StartTime time.Time `gorm:"not null"` // Event start.
	EndTime   time.Time `gorm:"not null"` // Event end.

	Capacity *int `gorm:""` // Maximum guest count, nil for unlimited.

	// PointsRemain and PointsAwarded together track the event's point
	// budget. Awards decrement the former and increment the latter by the
	// same total.
	PointsRemain  int `gorm:"not null;default:0"`
	PointsAwarded int `gorm:"not null;default:0"`

	Published bool `gorm:"not null;default:false"` // Whether regular users can see the event.

	Organizers []User `gorm:"many2many:event_organizers"` // Users who may award this event's points.
	Guests     []User `gorm:"many2many:event_guests"`     // RSVP'd recipients for broadcasts.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// HasOrganizer reports whether the given handle organizes this event.
func (e *Event) HasOrganizer(utorid string) bool {
	for _, organizer := range e.Organizers {
		if organizer.Utorid == utorid {
			return true
		}
	}
	return false
}

// HasGuest reports whether the given handle is on the guest list.
func (e *Event) HasGuest(utorid string) bool {
	for _, guest := range e.Guests {
		if guest.Utorid == utorid {
			return true
		}
	}
	return false
}

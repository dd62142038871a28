package models

import "time"

// BookingStatus mirrors the lifecycle owned by the booking service
type BookingStatus string

const (
	BookingPending   BookingStatus = "Pending"
	BookingAccepted  BookingStatus = "Accepted"
	BookingCompleted BookingStatus = "Completed"
	BookingCancelled BookingStatus = "Cancelled"
	BookingRejected  BookingStatus = "Rejected"
)

// ChatAllowed reports whether a room may be joined for a booking in this status
func (s BookingStatus) ChatAllowed() bool {
	return s == BookingAccepted
}

// Booking is the read-only projection of a booking the chat needs
type Booking struct {
	ID         string        `json:"id" gorm:"primaryKey;size:64" bson:"_id"`
	CustomerID string        `json:"customerId" gorm:"index;size:64;not null" bson:"customerId"`
	WorkerID   string        `json:"workerId" gorm:"index;size:64;not null" bson:"workerId"`
	Status     BookingStatus `json:"status" gorm:"size:32;not null" bson:"status"`
	UpdatedAt  time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// TableName is shared with the booking service schema
func (Booking) TableName() string { return "bookings" }

// IsParticipant reports whether userID is the booking's customer or worker
func (b *Booking) IsParticipant(userID string) bool {
	return userID != "" && (userID == b.CustomerID || userID == b.WorkerID)
}

// Counterpart returns the other participant, or "" if userID is not on the booking
func (b *Booking) Counterpart(userID string) string {
	switch userID {
	case b.CustomerID:
		return b.WorkerID
	case b.WorkerID:
		return b.CustomerID
	}
	return ""
}

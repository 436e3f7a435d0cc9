package models

import (
	"time"

	"gorm.io/gorm/clause"
)

const (
	ACTIVE_LOCATION   = "active"
	INACTIVE_LOCATION = "inactive"
)

// LiveLocation is the last position a user shared, one row per user
type LiveLocation struct {
	BaseModel
	UserID    uint    `json:"user_id" gorm:"not null;uniqueIndex"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	Accuracy  float64 `json:"accuracy" validate:"min=0"`
	Address   string  `json:"address" validate:"max=255"`
	Status    string  `json:"status" gorm:"not null;index"`
}

// WatchedLocation is a live location as seen by one of the owner's guardians
type WatchedLocation struct {
	LiveLocation
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

func ValidCoordinates(latitude, longitude float64) bool {
	return latitude >= -90 && latitude <= 90 && longitude >= -180 && longitude <= 180
}

// UpsertLiveLocation stores location as the user's active location
func UpsertLiveLocation(location *LiveLocation) error {
	if !ValidCoordinates(location.Latitude, location.Longitude) {
		return ErrInvalidLocation
	}

	currentTime := now()
	location.ID = 0
	location.Status = ACTIVE_LOCATION
	location.CreatedAt = currentTime
	location.UpdatedAt = currentTime

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "accuracy", "address", "status", "updated_at"}),
	}).Create(location).Error
	if err != nil {
		return err
	}

	// On conflict sqlite doesn't report the existing row's id
	return db.Select("id", "created_at").First(location, "user_id = ?", location.UserID).Error
}

func FindLiveLocation(userID interface{}) (*LiveLocation, error) {
	location := LiveLocation{}
	err := db.First(&location, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}

	return &location, nil
}

// DeactivateLiveLocation marks the user's location inactive. It reports false when
// the user had no active location.
func DeactivateLiveLocation(userID interface{}) (bool, error) {
	res := db.Model(&LiveLocation{}).Where("user_id = ? AND status = ?", userID, ACTIVE_LOCATION).
		Updates(map[string]interface{}{"status": INACTIVE_LOCATION, "updated_at": now()})

	return res.RowsAffected > 0, res.Error
}

// WatchedLocations returns the locations of every user guardianID watches over
func WatchedLocations(guardianID uint) ([]WatchedLocation, error) {
	locations := []WatchedLocation{}

	err := db.Table("live_locations").
		Select("live_locations.*, users.first_name, users.last_name, users.username").
		Joins("INNER JOIN users ON users.id = live_locations.user_id").
		Where("live_locations.user_id IN (?)",
			db.Model(&EmergencyContact{}).Select("user_id").Where("guardian_id = ?", guardianID)).
		Order("live_locations.updated_at desc").
		Scan(&locations).Error

	return locations, err
}

// StaleLiveLocations returns active locations not updated since olderThan ago
func StaleLiveLocations(olderThan time.Duration) ([]LiveLocation, error) {
	locations := []LiveLocation{}
	err := db.Where("status = ? AND updated_at <= ?", ACTIVE_LOCATION, now().Add(-olderThan)).
		Limit(MAX_PAGE_SIZE).Find(&locations).Error

	return locations, err
}

// DeactivateLiveLocations marks the given locations inactive, if they're still
// stale, and returns the owners whose location changed. updated_at is kept so
// guardians still see when the position was last reported.
func DeactivateLiveLocations(locations []LiveLocation, olderThan time.Duration) ([]uint, error) {
	userIDs := []uint{}
	for _, location := range locations {
		res := db.Model(&LiveLocation{}).
			Where("id = ? AND status = ? AND updated_at <= ?", location.ID, ACTIVE_LOCATION, now().Add(-olderThan)).
			UpdateColumn("status", INACTIVE_LOCATION)
		if res.Error != nil {
			return userIDs, res.Error
		}

		if res.RowsAffected > 0 {
			userIDs = append(userIDs, location.UserID)
		}
	}

	return userIDs, nil
}

// IsStale reports whether the location hasn't been refreshed for olderThan
func (location *LiveLocation) IsStale(olderThan time.Duration) bool {
	return location.Status != ACTIVE_LOCATION || now().Sub(location.UpdatedAt) > olderThan
}

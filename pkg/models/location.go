package models

import "time"

// DriverLocation is a single position tick from a driver client. Samples are
// ephemeral: only the most recent one per driver is ever retained.
type DriverLocation struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

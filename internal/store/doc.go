// Package store persists devices, locations, alerts, and commands.
//
// The production adapter targets PostgreSQL with PostGIS via GORM; location
// rows carry a geography(Point,4326) column for great-circle proximity
// queries.
package store

package model

import "github.com/google/uuid"

// NewSortableID returns a UUIDv7 string. Ids issued by one process compare in
// issue order, which breaks ties between timestamps stored at millisecond
// precision.
func NewSortableID() string {
	return uuid.Must(uuid.NewV7()).String()
}

package genqueue

import "github.com/xraph/genqueue/id"

// ID is the primary identifier type for all genqueue entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix

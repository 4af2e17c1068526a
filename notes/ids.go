package notes

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator returns a new unique note id.
type IDGenerator func() string

// UUIDGenerator returns random version 4 UUIDs.
func UUIDGenerator() string {
	return uuid.NewString()
}

// ULIDGenerator returns monotonic ULIDs (e.g. 01JB6X8Y2K9FQR4T3VWHGP5M2C), which sort by
// creation time.
func ULIDGenerator() string {
	return ulid.Make().String()
}

// GeneratorByName maps a configured id scheme to its generator.
func GeneratorByName(name string) (IDGenerator, error) {
	switch strings.ToLower(name) {
	case "", "uuid":
		return UUIDGenerator, nil
	case "ulid":
		return ULIDGenerator, nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q (want uuid or ulid)", name)
	}
}

package reminders

import (
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/medrex/healthon/pkg/types"
)

// maxNotificationID keeps ids inside the positive int32 range that mobile
// notification APIs accept.
const maxNotificationID = 0x7fffffff

// NotificationID derives the idempotency key of a logical alert from its source
// identity and a discriminator (band name, time slot). The same inputs always
// produce the same id.
func NotificationID(kind types.SourceKind, sourceID, discriminator string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(sourceID))
	h.Write([]byte{'|'})
	h.Write([]byte(discriminator))
	id := h.Sum32() & maxNotificationID
	if id == 0 {
		// zero is reserved by some hosts as "no id"
		id = 1
	}
	return id
}

// ephemeralID returns a random id for immediate, untracked deliveries
func ephemeralID() uint32 {
	return NotificationID("display", uuid.NewString(), "now")
}

// FiredKey is the fired-log key of one proximity band for one appointment
func FiredKey(appointmentID string, band types.Band) string {
	return "proximity:" + appointmentID + ":" + string(band)
}

package domain

// VenueName identifies a swap-quoting source.
type VenueName string

// Known venues.
const (
	VenueAVNU    VenueName = "avnu"
	VenueFibrous VenueName = "fibrous"
	VenueMySwap  VenueName = "myswap"
	VenueEkubo   VenueName = "ekubo"
)

// IsValid reports whether v is a known venue.
func (v VenueName) IsValid() bool {
	switch v {
	case VenueAVNU, VenueFibrous, VenueMySwap, VenueEkubo:
		return true
	}
	return false
}

package query

import (
	"fmt"
	"math"
	"strings"
)

// RegionGlobal is the bucket used when no usable region signal is present.
const RegionGlobal = "global"

const maxRegionHintLen = 32

// ResolveRegion maps geo coordinates, a postal code, or a free-text hint to
// a canonical region bucket, preferring precise, spoof-resistant signals:
// coordinates over pincode over hint over global. Malformed input resolves
// to global rather than erroring.
func ResolveRegion(lat, lng *float64, pincode, hint string) string {
	if lat != nil && lng != nil && isFinite(*lat) && isFinite(*lng) {
		// One decimal place buckets coordinates into ~11km cells.
		return fmt.Sprintf("geo:%.1f:%.1f", *lat, *lng)
	}

	if isPincode(pincode) {
		return "pin:" + pincode
	}

	if sanitized := sanitizeHint(hint); sanitized != "" {
		return sanitized
	}

	return RegionGlobal
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isPincode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sanitizeHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" || len(hint) > maxRegionHintLen {
		return ""
	}
	for _, r := range hint {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == ':' || r == '_' || r == '-':
		default:
			return ""
		}
	}
	return hint
}

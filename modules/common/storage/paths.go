package storage

import "net/url"

// Size class folder names under events/{eventId}/variants
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// OriginalsDir - events/{eventId}/originals
func OriginalsDir(eventID string) string {
	return "events/" + eventID + "/originals"
}

// PreviewsDir - events/{eventId}/previews
func PreviewsDir(eventID string) string {
	return "events/" + eventID + "/previews"
}

// VariantsDir - events/{eventId}/variants/{size}
func VariantsDir(eventID, size string) string {
	return "events/" + eventID + "/variants/" + size
}

// ContentDirs - every folder that may hold objects of one event's content;
// cleanup lists all of them to rebuild the URL→object map
func ContentDirs(eventID string) []string {
	return []string{
		OriginalsDir(eventID),
		PreviewsDir(eventID),
		VariantsDir(eventID, SizeSmall),
		VariantsDir(eventID, SizeMedium),
		VariantsDir(eventID, SizeLarge),
	}
}

// NormalizeURL - canonical form of a remote object URL: query and fragment
// stripped, scheme/host/path preserved. URLs recorded at different times for
// the same object (signed, cache-busted, plain) compare equal afterwards.
// Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

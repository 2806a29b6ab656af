package notifications

// DefaultContents returns the contents seeded at boot, keyed by incident type.
func DefaultContents() []Content {
	return []Content{
		{Key: "NON_SAFETY_HELMET", Title: "Safety warning", Body: "A worker without a safety helmet was detected."},
		{Key: "NON_SAFETY_VEST", Title: "Safety warning", Body: "A worker without a safety vest was detected."},
		{Key: "USE_PHONE_WHILE_WORKING", Title: "Safety warning", Body: "A worker using a phone while walking was detected."},
		{Key: "FALL", Title: "Accident alert", Body: "A fall accident has occurred."},
		{Key: "SOS_REQUEST", Title: "Emergency alert", Body: "A worker requesting rescue was detected."},
	}
}

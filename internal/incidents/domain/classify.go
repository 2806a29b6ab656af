package incidents

import "strings"

// Classification is the derived severity and notification content for a type.
type Classification struct {
	Reason     string
	Level      Level
	ContentKey string
}

var classifications = map[Type]Classification{
	TypeNonSafetyHelmet:      {Reason: "helmet not worn", Level: LevelLow, ContentKey: string(TypeNonSafetyHelmet)},
	TypeNonSafetyVest:        {Reason: "safety vest not worn", Level: LevelLow, ContentKey: string(TypeNonSafetyVest)},
	TypeUsePhoneWhileWorking: {Reason: "phone use while walking", Level: LevelLow, ContentKey: string(TypeUsePhoneWhileWorking)},
	TypeFall:                 {Reason: "fall detected", Level: LevelMedium, ContentKey: string(TypeFall)},
	TypeSOSRequest:           {Reason: "rescue requested", Level: LevelHigh, ContentKey: string(TypeSOSRequest)},
}

// orderedTypes fixes iteration order for reports and seeding.
var orderedTypes = []Type{
	TypeNonSafetyHelmet,
	TypeNonSafetyVest,
	TypeUsePhoneWhileWorking,
	TypeFall,
	TypeSOSRequest,
}

// Classify maps a type to its reason, level and content key.
func Classify(t Type) (Classification, bool) {
	c, ok := classifications[t]
	return c, ok
}

// ParseType validates a raw type value.
func ParseType(value string) (Type, error) {
	t := Type(strings.TrimSpace(value))
	if _, ok := classifications[t]; !ok {
		return "", ErrInvalidType
	}
	return t, nil
}

// Types returns every known type in a stable order.
func Types() []Type {
	out := make([]Type, len(orderedTypes))
	copy(out, orderedTypes)
	return out
}

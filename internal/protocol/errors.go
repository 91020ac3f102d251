package protocol

// Outcome codes. Success is the empty code.
const (
	CodeOK = ""

	ErrAlreadyInNation = "E_ALREADY_IN_NATION"
	ErrNotInNation     = "E_NOT_IN_NATION"
	ErrNameTooShort    = "E_NAME_TOO_SHORT"
	ErrNameTooLong     = "E_NAME_TOO_LONG"
	ErrNameTaken       = "E_NAME_TAKEN"
	ErrNoPermission    = "E_NO_PERMISSION"
	ErrNationNotFound  = "E_NATION_NOT_FOUND"
	ErrNoInvite        = "E_NO_INVITE"
	ErrTargetNotFound  = "E_TARGET_NOT_FOUND"

	// Outside the mutation taxonomy. E_RATE_LIMIT is answered by the transport without
	// reaching the world; E_INTERNAL marks an unknown op or an unmapped store error.
	ErrRateLimit = "E_RATE_LIMIT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]string{
	ErrAlreadyInNation: "error.already_in_nation",
	ErrNotInNation:     "error.not_in_nation",
	ErrNameTooShort:    "error.name_too_short",
	ErrNameTooLong:     "error.name_too_long",
	ErrNameTaken:       "error.name_taken",
	ErrNoPermission:    "error.no_permission",
	ErrNationNotFound:  "error.nation_not_found",
	ErrNoInvite:        "error.no_invite",
	ErrTargetNotFound:  "error.target_not_found",
	ErrRateLimit:       "error.rate_limit",
	ErrInternal:        "error.internal",
}

func IsKnownCode(code string) bool {
	if code == CodeOK {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// IsMutationCode reports whether code is success or one of the validation and
// authorization rejections a mutation handler may return.
func IsMutationCode(code string) bool {
	switch code {
	case ErrRateLimit, ErrInternal:
		return false
	}
	return IsKnownCode(code)
}

// ErrorKey is the translation key rendered for a rejection code.
func ErrorKey(code string) string {
	if k, ok := knownCodes[code]; ok {
		return k
	}
	return "error.unknown"
}

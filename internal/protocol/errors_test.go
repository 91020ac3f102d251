package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		CodeOK,
		ErrAlreadyInNation,
		ErrNotInNation,
		ErrNameTooShort,
		ErrNameTooLong,
		ErrNameTaken,
		ErrNoPermission,
		ErrNationNotFound,
		ErrNoInvite,
		ErrTargetNotFound,
		ErrRateLimit,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
		if c != CodeOK && ErrorKey(c) == "error.unknown" {
			t.Fatalf("missing translation key for %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
	if ErrorKey("E_NOT_DEFINED") != "error.unknown" {
		t.Fatalf("unknown code should map to error.unknown")
	}
}

func TestIsMutationCode(t *testing.T) {
	for _, c := range []string{CodeOK, ErrAlreadyInNation, ErrNotInNation, ErrNameTooShort, ErrNameTooLong,
		ErrNameTaken, ErrNoPermission, ErrNationNotFound, ErrNoInvite, ErrTargetNotFound} {
		if !IsMutationCode(c) {
			t.Fatalf("%q should be a mutation code", c)
		}
	}
	for _, c := range []string{ErrRateLimit, ErrInternal, "E_NOT_DEFINED"} {
		if IsMutationCode(c) {
			t.Fatalf("%q is not a mutation code", c)
		}
	}
}

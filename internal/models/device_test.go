package models

import "testing"

func TestTrustLevelAtLeast(t *testing.T) {
	tests := []struct {
		have     TrustLevel
		required TrustLevel
		want     bool
	}{
		{TrustUnknown, TrustUnknown, true},
		{TrustUnknown, TrustKnown, false},
		{TrustKnown, TrustUnknown, true},
		{TrustKnown, TrustKnown, true},
		{TrustKnown, TrustVerified, false},
		{TrustVerified, TrustKnown, true},
		{TrustTrusted, TrustVerified, true},
		{TrustTrusted, TrustTrusted, true},
	}

	for _, tt := range tests {
		if got := tt.have.AtLeast(tt.required); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}

func TestTrustLevelAtLeast_CorruptValue(t *testing.T) {
	// A value that never came from this package must not satisfy any
	// requirement, including "unknown".
	corrupt := TrustLevel("superuser")

	if corrupt.AtLeast(TrustUnknown) {
		t.Error("unrecognized trust level should rank below unknown")
	}
	if !TrustUnknown.AtLeast(corrupt) {
		t.Error("unknown should satisfy a corrupt requirement")
	}
}

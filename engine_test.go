package engine

import "testing"

func TestTrimHexPrefix(t *testing.T) {
	cases := map[string]string{
		"0xabcdef": "abcdef",
		"0XABCDEF": "ABCDEF",
		"abcdef":   "abcdef",
		"0x":       "",
		"":         "",
		"0":        "0",
	}
	for in, want := range cases {
		if got := trimHexPrefix(in); got != want {
			t.Errorf("trimHexPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

package api

import "testing"

func TestPercentEncodeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Go", "Go"},
		{"Go (programming language)", "Go%20(programming%20language)"},
		{"C++", "C%2B%2B"},
		{"a_b-c.d~e", "a_b-c.d~e"},
		{"100% Orange Juice", "100%25%20Orange%20Juice"},
	}
	for _, tc := range cases {
		if got := percentEncodeFilename(tc.in); got != tc.want {
			t.Errorf("percentEncodeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

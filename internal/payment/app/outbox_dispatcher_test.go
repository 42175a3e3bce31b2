package app

import "testing"

func TestRetryDelaySeconds_GrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{0, 1},
		{-3, 1},
		{1, 2},
		{2, 4},
		{5, 32},
		{8, 256},
		{9, 256},
		{50, 256},
	}
	for _, tc := range cases {
		if got := retryDelaySeconds(tc.attempt); got != tc.want {
			t.Errorf("retryDelaySeconds(%d) = %d, want %d", tc.attempt, got, tc.want)
		}
	}
}

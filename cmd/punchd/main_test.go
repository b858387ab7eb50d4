package main

import "testing"

func TestIsOneShot(t *testing.T) {
	cases := []struct {
		command string
		want    bool
	}{
		{"ingest", true},
		{"govern", true},
		{"status", true},
		{" STATUS ", true},
		{"daemon", false},
		{"hook", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isOneShot(tc.command); got != tc.want {
			t.Errorf("isOneShot(%q) = %v, want %v", tc.command, got, tc.want)
		}
	}
}

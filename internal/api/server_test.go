package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLimit(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"valid", "10", 10},
		{"missing", "", defaultHistoryLimit},
		{"not a number", "abc", defaultHistoryLimit},
		{"zero", "0", defaultHistoryLimit},
		{"negative", "-5", defaultHistoryLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseLimit(tc.raw))
		})
	}
}

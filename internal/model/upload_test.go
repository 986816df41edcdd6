package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPrepared, StatusComplete, true},
		{StatusPrepared, StatusDeleted, true},
		{StatusComplete, StatusComplete, true},
		{StatusComplete, StatusDeleted, true},
		{StatusComplete, StatusPrepared, false},
		{StatusDeleted, StatusComplete, false},
		{StatusDeleted, StatusPrepared, false},
		{StatusDeleted, StatusDeleted, true},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

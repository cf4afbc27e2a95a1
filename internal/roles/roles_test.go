package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		role   Role
		needle Role
		want   bool
	}{
		{"admin has admin", Admin, Admin, true},
		{"user has user", User, User, true},
		{"user lacks admin", User, Admin, false},
		{"admin lacks user", Admin, User, false},
		{"both satisfies admin", Admin | User, Admin, true},
		{"both satisfies user", Admin | User, User, true},
		{"zero satisfies nothing", 0, User, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.Has(tt.needle))
		})
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Role(0).Valid())
	assert.True(t, Admin.Valid())
	assert.True(t, User.Valid())
	assert.True(t, (Admin | User).Valid())

	assert.False(t, Role(0b100).Valid())
	assert.False(t, Role(0b111).Valid())
	assert.False(t, Role(-1).Valid())
}

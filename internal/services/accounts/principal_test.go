package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastprodman/studentportal/internal/apperr"
	"github.com/fastprodman/studentportal/internal/models"
)

func TestPrincipal_Capabilities(t *testing.T) {
	student := Principal{Role: models.RoleStudent, AccountID: 4}
	admin := Principal{Role: models.RoleAdmin, AccountID: 1}
	service := Principal{Role: models.RoleService}
	nobody := Principal{}

	assert.True(t, student.CanAccess(4))
	assert.False(t, student.CanAccess(5))
	assert.False(t, student.CanAdminister())
	assert.False(t, student.CanCallService())

	assert.True(t, admin.CanAccess(5))
	assert.True(t, admin.CanAdminister())
	assert.False(t, admin.CanCallService())

	assert.True(t, service.CanAccess(5))
	assert.True(t, service.CanCallService())
	assert.False(t, service.CanAdminister())

	assert.False(t, nobody.CanAccess(0))
	require.ErrorIs(t, nobody.Require(CapReadOwnLedger), apperr.ErrUnauthorized)
	require.NoError(t, admin.Require(CapAdminister))
}

func TestValidateSignup(t *testing.T) {
	require.NoError(t, validateSignup("Ada", "ada@studio.test", "longenough"))

	for name, in := range map[string][3]string{
		"no name":        {"", "ada@studio.test", "longenough"},
		"bad email":      {"Ada", "ada-at-studio", "longenough"},
		"display email":  {"Ada", "Ada <ada@studio.test>", "longenough"},
		"short password": {"Ada", "ada@studio.test", "short"},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, validateSignup(in[0], in[1], in[2]), apperr.ErrInvalidInput)
		})
	}
}

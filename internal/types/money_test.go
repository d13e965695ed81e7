package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyEqualIgnoresTrailingZeros(t *testing.T) {
	a := MustMoney("13")
	b := MustMoney("13.00")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(MustMoney("13.01")))
}

func TestMoneyRejectsGarbage(t *testing.T) {
	_, err := NewMoney("twelve", "")
	require.Error(t, err)
}

func TestMoneyJSONUsesFixedAmount(t *testing.T) {
	b, err := json.Marshal(MustMoney("12.5"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"12.50","currency":"USD"}`, string(b))
}

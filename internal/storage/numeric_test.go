package storage

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/model"
)

func TestToNumeric_RoundsToMoneyPlaces(t *testing.T) {
	n := toNumeric(decimal.RequireFromString("14.24995"))
	back, err := fromNumeric(n)
	require.NoError(t, err)
	assert.Equal(t, "14.2500", model.FormatMoney(back))
}

func TestFromNumeric_Edges(t *testing.T) {
	d, err := fromNumeric(pgtype.Numeric{})
	require.NoError(t, err)
	assert.True(t, d.IsZero(), "NULL reads as zero")

	_, err = fromNumeric(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)

	d, err = fromNumeric(pgtype.Numeric{Int: big.NewInt(11425), Exp: -2, Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "114.2500", model.FormatMoney(d))
}

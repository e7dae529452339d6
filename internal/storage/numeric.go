package storage

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/ichiba/internal/model"
)

// toNumeric converts a money value for a NUMERIC column.
func toNumeric(d decimal.Decimal) pgtype.Numeric {
	d = model.Round(d)
	return pgtype.Numeric{Int: new(big.Int).Set(d.Coefficient()), Exp: d.Exponent(), Valid: true}
}

// fromNumeric converts a scanned NUMERIC. NULL reads as zero.
func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("storage: non-finite numeric")
	}
	if n.Int == nil {
		return decimal.Zero, nil
	}
	return model.Round(decimal.NewFromBigInt(n.Int, n.Exp)), nil
}

// money collects NUMERIC scan targets and converts them in one step, so
// scanning code stays a flat list of pointers.
type money struct {
	dst []*decimal.Decimal
	src []*pgtype.Numeric
}

func (m *money) scan(dst *decimal.Decimal) *pgtype.Numeric {
	n := new(pgtype.Numeric)
	m.dst = append(m.dst, dst)
	m.src = append(m.src, n)
	return n
}

func (m *money) finish() error {
	for i, n := range m.src {
		d, err := fromNumeric(*n)
		if err != nil {
			return err
		}
		*m.dst[i] = d
	}
	return nil
}

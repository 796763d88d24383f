// Package summary implements the Summariser: groups Holdings by token
// (ascending) and sums amounts with arbitrary-precision decimal arithmetic
// (spec.md §4.6).
//
// Grounded on AKJUS-bsc-erigon's go.mod declaring github.com/shopspring/decimal
// (mirrored across several other_examples/manifests/*-erigon* go.mod
// files) — the only arbitrary-precision decimal library attested anywhere
// in the retrieved pack.
package summary

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/luxfi/aggregator/internal/domain"
	"github.com/luxfi/aggregator/internal/engineerr"
)

// Summarise groups holdings by token and sums their amounts. A malformed
// amount string aborts the whole summarisation with a DecimalParse error
// (spec.md §7) — the caller gets nothing rather than a partial summary.
func Summarise(holdings []domain.Holding) ([]domain.HoldingSummary, error) {
	totals := map[string]decimal.Decimal{}
	order := []string{}

	for _, h := range holdings {
		d, err := decimal.NewFromString(h.Amount)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindDecimalParse, fmt.Sprintf("amount %q: %s", h.Amount, h.Token), err)
		}
		if existing, ok := totals[h.Token]; ok {
			totals[h.Token] = existing.Add(d)
		} else {
			totals[h.Token] = d
			order = append(order, h.Token)
		}
	}

	sort.Strings(order)

	out := make([]domain.HoldingSummary, 0, len(order))
	for _, token := range order {
		f, _ := totals[token].Float64()
		out = append(out, domain.HoldingSummary{Token: token, Total: f})
	}
	return out, nil
}

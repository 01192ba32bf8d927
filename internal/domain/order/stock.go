package order

import (
	"context"
	"maps"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
)

// deductStock takes the order quantities out of stock. Products are touched
// in ID order so concurrent transactions lock rows in the same sequence.
func (s *Service) deductStock(ctx context.Context, tx Tx, o *Order) error {
	if o.StockDeducted {
		return nil
	}
	q := o.Quantities()
	for _, id := range slices.Sorted(maps.Keys(q)) {
		if err := tx.AdjustStock(ctx, id, -q[id]); err != nil {
			return errors.Wrapf(err, "deduct stock for %s", id)
		}
	}
	o.StockDeducted = true
	return nil
}

// restoreStock puts back exactly what deductStock removed. Products deleted
// from the catalog since checkout have nowhere to go back to and are skipped.
func (s *Service) restoreStock(ctx context.Context, tx Tx, o *Order) error {
	if !o.StockDeducted {
		return nil
	}
	q := o.Quantities()
	for _, id := range slices.Sorted(maps.Keys(q)) {
		err := tx.AdjustStock(ctx, id, q[id])
		if errors.Is(err, product.ErrNotFound) {
			zctx.From(ctx).Warn("Skip stock restore for deleted product",
				zap.String("order_id", o.ID),
				zap.String("product_id", id),
				zap.Int("quantity", q[id]),
			)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "restore stock for %s", id)
		}
	}
	return nil
}

package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/product"
)

// AddInput describes an item to put into the cart.
type AddInput struct {
	ProductID string
	Quantity  int
	Size      string
	Color     string
}

// Service implements cart mutations against the live catalog.
type Service struct {
	carts    Repository
	products product.Repository
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository) *Service {
	return &Service{carts: carts, products: products}
}

// Get returns the user's cart, creating it when missing.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// AddItem adds a product variant to the cart. Adding a variant that is
// already present merges the quantities and refreshes the price snapshot.
func (s *Service) AddItem(ctx context.Context, userID string, in AddInput) (*Cart, error) {
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.activeProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !p.OffersSize(in.Size) || !p.OffersColor(in.Color) {
		return nil, ErrInvalidVariant
	}

	return s.carts.Update(ctx, userID, func(c *Cart) error {
		idx := -1
		for i := range c.Items {
			if c.Items[i].Matches(in.ProductID, in.Size, in.Color) {
				idx = i
				break
			}
		}

		qty := in.Quantity
		if idx >= 0 {
			qty += c.Items[idx].Quantity
		}
		if want := c.QuantityOf(p.ID, idx) + qty; want > p.Stock {
			return &product.InsufficientStockError{
				ProductID: p.ID, Name: p.Name, Requested: want, Available: p.Stock,
			}
		}

		line := Item{
			ProductID:         p.ID,
			Name:              p.Name,
			Image:             p.Thumbnail(),
			Quantity:          qty,
			Size:              in.Size,
			Color:             in.Color,
			UnitPrice:         p.Price,
			UnitDiscountPrice: p.DiscountPrice,
		}
		if idx >= 0 {
			line.ID = c.Items[idx].ID
			c.Items[idx] = line
		} else {
			line.ID = uuid.New().String()
			c.Items = append(c.Items, line)
		}
		return nil
	})
}

// UpdateItem sets the quantity of a cart line.
func (s *Service) UpdateItem(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return s.carts.Update(ctx, userID, func(c *Cart) error {
		idx := c.Find(itemID)
		if idx < 0 {
			return ErrItemNotFound
		}

		p, err := s.activeProduct(ctx, c.Items[idx].ProductID)
		if err != nil {
			return err
		}
		if want := c.QuantityOf(p.ID, idx) + quantity; want > p.Stock {
			return &product.InsufficientStockError{
				ProductID: p.ID, Name: p.Name, Requested: want, Available: p.Stock,
			}
		}

		c.Items[idx].Quantity = quantity
		return nil
	})
}

// RemoveItem deletes a cart line.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error) {
	return s.carts.Update(ctx, userID, func(c *Cart) error {
		idx := c.Find(itemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return nil
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.carts.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func (s *Service) activeProduct(ctx context.Context, id string) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrap(err, "get product")
	}
	if !p.IsActive {
		return nil, &product.UnavailableError{ProductID: p.ID, Name: p.Name}
	}
	return p, nil
}

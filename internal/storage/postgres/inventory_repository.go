package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) GetLine(productID, variant string) (domain.InventoryLine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var line domain.InventoryLine
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, variant, name, price_minor, stock, sales_count, updated_at
		FROM product_inventory
		WHERE product_id = $1 AND variant = $2
	`, productID, variant).Scan(
		&line.ProductID, &line.Variant, &line.Name,
		&line.PriceMinor, &line.Stock, &line.SalesCount, &line.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryLine{}, domain.ErrInventoryNotFound
		}
		return domain.InventoryLine{}, fmt.Errorf("select inventory line: %w", err)
	}

	return line, nil
}

func (r *inventoryRepository) DecrementStock(productID, variant string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Условное списание одним UPDATE: остаток не уходит в минус,
	// конкурирующие списания сериализует сама БД.
	res, err := r.db.ExecContext(ctx, `
		UPDATE product_inventory
		SET stock = stock - $1, updated_at = $2
		WHERE product_id = $3 AND variant = $4 AND stock >= $1
	`, qty, time.Now().UTC(), productID, variant)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetLine(productID, variant); err != nil {
			return err
		}
		return domain.ErrInventoryShortfall
	}

	return nil
}

func (r *inventoryRepository) IncrementSales(productID, variant string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE product_inventory
		SET sales_count = sales_count + $1, updated_at = $2
		WHERE product_id = $3 AND variant = $4
	`, qty, time.Now().UTC(), productID, variant)
	if err != nil {
		return fmt.Errorf("increment sales: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrInventoryNotFound
	}

	return nil
}

func (r *inventoryRepository) Upsert(line domain.InventoryLine) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_inventory (
			product_id, variant, name, price_minor, stock, sales_count, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (product_id, variant) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    stock = EXCLUDED.stock,
		    updated_at = EXCLUDED.updated_at
	`,
		line.ProductID, line.Variant, line.Name,
		line.PriceMinor, line.Stock, line.SalesCount, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert inventory line: %w", err)
	}

	return nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)

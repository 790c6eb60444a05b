package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

type inventoryRepositoryInMemory struct {
	mu    sync.RWMutex
	lines map[string]domain.InventoryLine
}

// NewInventoryRepository создаёт in-memory реализацию InventoryRepository.
func NewInventoryRepository() domain.InventoryRepository {
	return &inventoryRepositoryInMemory{
		lines: make(map[string]domain.InventoryLine),
	}
}

func lineKey(productID, variant string) string {
	return productID + "\x00" + variant
}

func (r *inventoryRepositoryInMemory) GetLine(productID, variant string) (domain.InventoryLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	line, ok := r.lines[lineKey(productID, variant)]
	if !ok {
		return domain.InventoryLine{}, domain.ErrInventoryNotFound
	}
	return line, nil
}

func (r *inventoryRepositoryInMemory) DecrementStock(productID, variant string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := lineKey(productID, variant)
	line, ok := r.lines[key]
	if !ok {
		return domain.ErrInventoryNotFound
	}
	// Условное списание: остаток не уходит в минус.
	if line.Stock < qty {
		return domain.ErrInventoryShortfall
	}

	line.Stock -= qty
	line.UpdatedAt = time.Now().UTC()
	r.lines[key] = line
	return nil
}

func (r *inventoryRepositoryInMemory) IncrementSales(productID, variant string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := lineKey(productID, variant)
	line, ok := r.lines[key]
	if !ok {
		return domain.ErrInventoryNotFound
	}

	line.SalesCount += int64(qty)
	line.UpdatedAt = time.Now().UTC()
	r.lines[key] = line
	return nil
}

func (r *inventoryRepositoryInMemory) Upsert(line domain.InventoryLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line.UpdatedAt = time.Now().UTC()
	r.lines[lineKey(line.ProductID, line.Variant)] = line
	return nil
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)

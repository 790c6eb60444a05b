package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

func TestCustomerRepository_CreateAndLookup(t *testing.T) {
	repo := NewCustomerRepository()

	created, err := repo.Create(domain.Customer{ID: "c-1", Email: "Buyer@Example.com", Name: "Buyer"})
	require.NoError(t, err)
	require.Equal(t, "buyer@example.com", created.Email)

	byEmail, err := repo.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	require.Equal(t, "c-1", byEmail.ID)

	_, err = repo.GetByExternalID("missing")
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestCustomerRepository_DuplicateEmailReturnsExisting(t *testing.T) {
	repo := NewCustomerRepository()

	first, err := repo.Create(domain.Customer{ID: "c-1", Email: "dup@example.com"})
	require.NoError(t, err)

	second, err := repo.Create(domain.Customer{ID: "c-2", Email: "dup@example.com"})
	require.ErrorIs(t, err, domain.ErrCustomerEmailTaken)
	require.Equal(t, first.ID, second.ID)
}

func TestCustomerRepository_ConcurrentCreateSameEmail(t *testing.T) {
	repo := NewCustomerRepository()

	const workers = 16
	var wg sync.WaitGroup
	ids := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			customer, err := repo.Create(domain.Customer{
				ID:    "c-" + string(rune('a'+n)),
				Email: "race@example.com",
			})
			if err != nil && err != domain.ErrCustomerEmailTaken {
				t.Errorf("unexpected create error: %v", err)
				return
			}
			ids <- customer.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	// Все горутины должны сойтись на одном покупателе.
	var winner string
	for id := range ids {
		if winner == "" {
			winner = id
		}
		require.Equal(t, winner, id)
	}
}

func TestCustomerRepository_IncrementLifetime(t *testing.T) {
	repo := NewCustomerRepository()

	_, err := repo.Create(domain.Customer{ID: "c-1", Email: "stats@example.com"})
	require.NoError(t, err)

	require.NoError(t, repo.IncrementLifetime("c-1", 23000))
	require.NoError(t, repo.IncrementLifetime("c-1", 10000))

	customer, err := repo.Get("c-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), customer.OrdersCount)
	require.Equal(t, int64(33000), customer.SpentMinor)
}

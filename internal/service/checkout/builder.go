// Package checkout собирает checkout-сессию платёжного шлюза из
// корзины: серверный пересчёт цен, купон, доставка и снимок корзины
// в metadata сессии.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

const defaultSessionTimeout = 10 * time.Second

// GatewayResolver возвращает адаптер провайдера по имени.
type GatewayResolver interface {
	Resolve(provider string) (domain.GatewayClient, error)
}

// Config задаёт правила расчёта сумм сессии.
type Config struct {
	// Currency: валюта магазина, единая для всех сессий.
	Currency string
	// FlatShippingFeeMinor: фиксированная стоимость доставки ниже порога.
	FlatShippingFeeMinor int64
	// FreeShippingThresholdMinor: от этой суммы товаров доставка бесплатна.
	FreeShippingThresholdMinor int64
	SuccessURL                 string
	CancelURL                  string
	// SessionTimeout ограничивает исходящий вызов шлюза.
	SessionTimeout time.Duration
}

// Builder превращает корзину в сессию конкретного шлюза. Цены клиента
// игнорируются: авторитетные берутся из каталога на момент сборки.
type Builder struct {
	cfg       Config
	inventory domain.InventoryRepository
	coupons   domain.CouponRepository
	gateways  GatewayResolver
	logger    *log.Entry
}

// NewBuilder создаёт сборщик сессий.
func NewBuilder(cfg Config, inventory domain.InventoryRepository, coupons domain.CouponRepository, gateways GatewayResolver, logger *log.Entry) *Builder {
	if logger == nil {
		logger = log.WithField("component", "checkout-builder")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaultSessionTimeout
	}
	return &Builder{
		cfg:       cfg,
		inventory: inventory,
		coupons:   coupons,
		gateways:  gateways,
		logger:    logger,
	}
}

// BuildRequest: вход сборщика, собранный HTTP-слоем из тела запроса.
type BuildRequest struct {
	Provider        string
	Lines           []domain.CartLine
	CouponCode      string
	BuyerEmail      string
	BuyerExternalID string
	Address         domain.ShippingAddress
}

// Build валидирует корзину, пересчитывает суммы по каталогу и создаёт
// сессию у шлюза. Локально ничего не сохраняется: до подтверждения
// оплаты источником истины о сессии остаётся сам шлюз.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (domain.CheckoutSession, error) {
	if len(req.Lines) == 0 {
		return domain.CheckoutSession{}, domain.ErrEmptyCart
	}
	if strings.TrimSpace(req.BuyerEmail) == "" {
		return domain.CheckoutSession{}, domain.ErrMissingContact
	}

	client, err := b.gateways.Resolve(req.Provider)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	snapshot, err := b.buildSnapshot(req)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	reference := "chk-" + uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.SessionTimeout)
	defer cancel()

	session, err := client.CreateSession(ctx, domain.CheckoutSessionRequest{
		Reference:       reference,
		BuyerEmail:      strings.TrimSpace(req.BuyerEmail),
		BuyerExternalID: req.BuyerExternalID,
		Snapshot:        snapshot,
		Address:         req.Address,
		SuccessURL:      b.cfg.SuccessURL,
		CancelURL:       b.cfg.CancelURL,
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	b.logger.WithFields(log.Fields{
		"provider":    session.Provider,
		"session_id":  session.SessionID,
		"reference":   reference,
		"total_minor": session.Totals.TotalMinor,
	}).Info("checkout session created")

	return session, nil
}

// buildSnapshot пересчитывает корзину по каталогу и собирает снимок.
func (b *Builder) buildSnapshot(req BuildRequest) (domain.CartSnapshot, error) {
	lines := make([]domain.SnapshotLine, 0, len(req.Lines))
	var subtotal int64
	for _, cartLine := range req.Lines {
		if cartLine.Qty <= 0 {
			return domain.CartSnapshot{}, fmt.Errorf("%w: product %q qty %d",
				domain.ErrQtyInvalid, cartLine.ProductID, cartLine.Qty)
		}

		stockLine, err := b.inventory.GetLine(cartLine.ProductID, cartLine.Variant)
		if errors.Is(err, domain.ErrInventoryNotFound) {
			return domain.CartSnapshot{}, fmt.Errorf("%w: %s/%s",
				domain.ErrUnknownProduct, cartLine.ProductID, cartLine.Variant)
		}
		if err != nil {
			return domain.CartSnapshot{}, fmt.Errorf("catalog lookup %s: %w", cartLine.ProductID, err)
		}

		lines = append(lines, domain.SnapshotLine{
			ProductID:  stockLine.ProductID,
			Variant:    stockLine.Variant,
			Name:       stockLine.Name,
			Qty:        cartLine.Qty,
			PriceMinor: stockLine.PriceMinor,
		})
		subtotal += stockLine.PriceMinor * int64(cartLine.Qty)
	}

	discount, couponCode, err := b.applyCoupon(req.CouponCode, subtotal)
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	shipping := b.shippingFee(subtotal)
	totals := domain.CheckoutTotals{
		SubtotalMinor: subtotal,
		DiscountMinor: discount,
		ShippingMinor: shipping,
		TotalMinor:    subtotal - discount + shipping,
	}

	return domain.CartSnapshot{
		Version:    domain.CartSnapshotVersion,
		Lines:      lines,
		Totals:     totals,
		Currency:   b.cfg.Currency,
		CouponCode: couponCode,
	}, nil
}

// applyCoupon рассчитывает скидку. Процент считается через decimal,
// чтобы избежать сюрпризов целочисленного деления; скидка не может
// превысить subtotal.
func (b *Builder) applyCoupon(code string, subtotalMinor int64) (int64, string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, "", nil
	}

	coupon, err := b.coupons.GetByCode(code)
	if err != nil {
		return 0, "", err
	}

	var discount int64
	switch coupon.Type {
	case domain.CouponPercentage:
		discount = decimal.NewFromInt(subtotalMinor).
			Mul(decimal.NewFromInt(coupon.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).IntPart()
	case domain.CouponFixed:
		discount = coupon.Value
	default:
		return 0, "", fmt.Errorf("%w: unknown coupon type %q", domain.ErrCouponNotFound, coupon.Type)
	}

	if discount < 0 {
		discount = 0
	}
	if discount > subtotalMinor {
		discount = subtotalMinor
	}
	return discount, coupon.Code, nil
}

// shippingFee: плоская ставка ниже порога, ноль от порога и выше.
func (b *Builder) shippingFee(subtotalMinor int64) int64 {
	if subtotalMinor >= b.cfg.FreeShippingThresholdMinor {
		return 0
	}
	return b.cfg.FlatShippingFeeMinor
}

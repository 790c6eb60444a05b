// Package gateway содержит адаптеры платёжных провайдеров: создание
// checkout-сессии, проверка подписи вебхука и нормализация событий.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

// metadataSnapshotKey: ключ metadata, под которым сессия увозит снимок корзины.
const metadataSnapshotKey = "cart_snapshot"

// metadataBuyerKey: ключ metadata с учёткой identity provider покупателя.
const metadataBuyerKey = "external_user_id"

// signatureTolerance ограничивает возраст подписи вебхука.
const signatureTolerance = 5 * time.Minute

// Registry хранит сконфигурированные адаптеры по имени провайдера.
type Registry struct {
	clients map[string]domain.GatewayClient
}

// NewRegistry создаёт пустой реестр адаптеров.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]domain.GatewayClient)}
}

// Register добавляет адаптер под его собственным именем.
func (r *Registry) Register(client domain.GatewayClient) {
	if client == nil {
		return
	}
	r.clients[client.Name()] = client
}

// Resolve возвращает адаптер провайдера или ErrGatewayNotConfigured.
func (r *Registry) Resolve(provider string) (domain.GatewayClient, error) {
	client, ok := r.clients[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrGatewayNotConfigured
	}
	return client, nil
}

// Names возвращает имена зарегистрированных провайдеров по алфавиту.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// signedPayload собирает строку, которую подписывают оба провайдера:
// "<timestamp>.<raw body>".
func signedPayload(ts string, rawBody []byte) []byte {
	payload := make([]byte, 0, len(ts)+1+len(rawBody))
	payload = append(payload, ts...)
	payload = append(payload, '.')
	payload = append(payload, rawBody...)
	return payload
}

// computeHMAC возвращает hex от HMAC-SHA256.
func computeHMAC(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignedBody проверяет подпись схемы "<ts>.<body>" с допуском по
// времени. Сравнение константное, до каких-либо чтений тела.
func verifySignedBody(secret, ts string, signatures []string, rawBody []byte, now time.Time) error {
	if secret == "" {
		return domain.ErrGatewayNotConfigured
	}
	if ts == "" || len(signatures) == 0 {
		return domain.ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age < -signatureTolerance || age > signatureTolerance {
		return domain.ErrInvalidSignature
	}

	expected := computeHMAC(secret, signedPayload(ts, rawBody))
	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// parseSignatureHeader разбирает заголовок вида
// "t=1699000000,v1=abcdef,v1=123456" в timestamp и список подписей.
// tsKey и sigKey различаются между провайдерами.
func parseSignatureHeader(header, tsKey, sigKey string) (ts string, signatures []string) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case tsKey:
			ts = value
		case sigKey:
			signatures = append(signatures, value)
		}
	}
	return ts, signatures
}

// packSnapshot сериализует снимок корзины для metadata сессии.
func packSnapshot(snapshot domain.CartSnapshot) (string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal cart snapshot: %w", err)
	}
	return string(raw), nil
}

// unpackSnapshot восстанавливает снимок корзины из metadata вебхука.
func unpackSnapshot(raw string) (domain.CartSnapshot, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.CartSnapshot{}, fmt.Errorf("%w: missing %s metadata", domain.ErrMalformedPayload, metadataSnapshotKey)
	}

	var snapshot domain.CartSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedPayload, metadataSnapshotKey, err)
	}
	return snapshot, nil
}

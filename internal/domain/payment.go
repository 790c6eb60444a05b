package domain

// PaymentConfirmed: нормализованное событие подтверждённой оплаты,
// к которому адаптеры приводят провайдер-специфичные конверты.
type PaymentConfirmed struct {
	// Provider: имя шлюза, приславшего событие.
	Provider string
	// ExternalReference: идентификатор сессии/платежа у шлюза,
	// используется как ключ идемпотентности.
	ExternalReference string

	AmountTotalMinor    int64
	AmountSubtotalMinor int64
	Currency            string

	PayerEmail string
	PayerName  string
	PayerPhone string
	// PayerExternalID: учётка identity provider, если шлюз её передал.
	PayerExternalID string

	// PaymentInstrumentID: идентификатор платёжного инструмента или intent.
	PaymentInstrumentID string

	Shipping ShippingAddress
	// Snapshot восстановлен из metadata, заложенной при создании сессии.
	Snapshot CartSnapshot
}

// Validate возвращает первую ошибку нормализованного события,
// пригодную для ответа 400 на malformed payload.
func (e PaymentConfirmed) Validate() error {
	if e.ExternalReference == "" {
		return ErrReferenceRequired
	}
	if e.AmountTotalMinor < 0 {
		return ErrAmountNegative
	}
	if len(e.Snapshot.Lines) == 0 {
		return ErrSnapshotEmpty
	}
	if e.Snapshot.Version != CartSnapshotVersion {
		return ErrSnapshotVersion
	}
	return nil
}

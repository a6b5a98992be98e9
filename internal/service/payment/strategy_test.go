package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type stubGateway struct {
	err   error
	calls []Authorization
}

func (g *stubGateway) Authorize(_ context.Context, auth Authorization) error {
	g.calls = append(g.calls, auth)
	return g.err
}

func fixedClock() time.Time {
	return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
}

func testOrder() domain.Order {
	return domain.Order{
		ID:              "ord-1",
		BuyerID:         "buyer-1",
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Currency:        domain.DefaultCurrency,
		AmountMinor:     350,
		ShippingAddress: "Kazan",
	}
}

func card(number, expiry, cvv string) Details {
	return Details{Method: domain.PaymentMethodCreditCard, Data: map[string]string{
		FieldCardNumber: number, FieldExpiryDate: expiry, FieldCVV: cvv, FieldCardHolder: "Ivan Petrov",
	}}
}

func TestCreditCard_Validation(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		code    string
	}{
		{name: "no data", details: Details{Method: domain.PaymentMethodCreditCard}, code: CodeInvalidData},
		{name: "missing holder", details: Details{Data: map[string]string{
			FieldCardNumber: "4111111111111111", FieldExpiryDate: "12/25", FieldCVV: "123",
		}}, code: CodeMissingFields},
		{name: "short number", details: card("4111 1111", "12/25", "123"), code: CodeInvalidCard},
		{name: "bad checksum", details: card("4111111111111112", "12/25", "123"), code: CodeInvalidCard},
		{name: "letters", details: card("4111abcd11111111", "12/25", "123"), code: CodeInvalidCard},
		{name: "expired", details: card("4111111111111111", "05/25", "123"), code: CodeInvalidExpiry},
		{name: "bad month", details: card("4111111111111111", "13/26", "123"), code: CodeInvalidExpiry},
		{name: "bad format", details: card("4111111111111111", "2026-01", "123"), code: CodeInvalidExpiry},
		{name: "short cvv", details: card("4111111111111111", "12/25", "12"), code: CodeInvalidCVV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &stubGateway{}
			res := NewCreditCard(gw, fixedClock).Process(context.Background(), testOrder(), domain.Actor{}, tt.details)
			require.False(t, res.Success)
			require.Equal(t, tt.code, res.Code)
			require.Empty(t, gw.calls)
		})
	}
}

func TestCreditCard_Success(t *testing.T) {
	gw := &stubGateway{}
	res := NewCreditCard(gw, fixedClock).Process(context.Background(), testOrder(), domain.Actor{},
		card("4111-1111 1111-1111", "06/25", "1234"))

	require.True(t, res.Success, res.Message)
	require.True(t, strings.HasPrefix(res.TransactionID, "CC_"))
	require.Len(t, res.TransactionID, len("CC_")+8)
	require.Equal(t, strings.ToUpper(res.TransactionID), res.TransactionID)
	require.Equal(t, int64(350), res.AmountMinor)
	require.Len(t, gw.calls, 1)
	require.Equal(t, "4111111111111111", gw.calls[0].Credential)
}

func TestValidCardNumber(t *testing.T) {
	for number, want := range map[string]bool{
		"4111111111111111":    true,
		"5555555555554444":    true,
		"4000000000000002":    true,
		"378282246310005":     true,
		"4111111111111":       false,
		"41111111111111111111": false,
		"1234567812345678":    false,
	} {
		require.Equal(t, want, validCardNumber(number), number)
	}
}

func TestPayPal(t *testing.T) {
	gw := &stubGateway{}
	s := NewPayPal(gw)

	res := s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{FieldEmail: "a@b.ru"}})
	require.Equal(t, CodeMissingFields, res.Code)

	res = s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{
		FieldEmail: "not-an-email", FieldPassword: "secret",
	}})
	require.Equal(t, CodeInvalidEmail, res.Code)

	res = s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{
		FieldEmail: "buyer@example.com", FieldPassword: "secret",
	}})
	require.True(t, res.Success)
	require.True(t, strings.HasPrefix(res.TransactionID, "PP_"))
}

func TestStripe(t *testing.T) {
	gw := &stubGateway{}
	s := NewStripe(gw)

	res := s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{}})
	require.Equal(t, CodeMissingFields, res.Code)

	res = s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{
		FieldPaymentMethodID: "pm_card_visa",
	}})
	require.True(t, res.Success)
	require.True(t, strings.HasPrefix(res.TransactionID, "ST_"))
	require.Equal(t, "pm_card_visa", gw.calls[0].Credential)
}

func TestBankTransfer(t *testing.T) {
	gw := &stubGateway{}
	s := NewBankTransfer(gw)

	res := s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{
		FieldAccountHolder: "OOO Romashka", FieldIBAN: "DE89 3704 0044 0532 0130 01",
	}})
	require.Equal(t, CodeInvalidIBAN, res.Code)

	res = s.Process(context.Background(), testOrder(), domain.Actor{}, Details{Data: map[string]string{
		FieldAccountHolder: "OOO Romashka", FieldIBAN: "de89 3704 0044 0532 0130 00",
	}})
	require.True(t, res.Success, res.Message)
	require.True(t, strings.HasPrefix(res.TransactionID, "BT_"))
	require.Equal(t, "DE89370400440532013000", gw.calls[0].Credential)
}

func TestCashOnDelivery(t *testing.T) {
	s := NewCashOnDelivery(300)

	res := s.Process(context.Background(), testOrder(), domain.Actor{}, Details{})
	require.Equal(t, CodeCODLimitExceeded, res.Code)

	order := testOrder()
	order.AmountMinor = 300
	res = s.Process(context.Background(), order, domain.Actor{}, Details{})
	require.True(t, res.Success)
	require.True(t, strings.HasPrefix(res.TransactionID, "COD_"))

	order.ShippingAddress = " "
	res = s.Process(context.Background(), order, domain.Actor{}, Details{})
	require.Equal(t, CodeMissingFields, res.Code)
}

func TestAuthorize_MapsGatewayErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "decline", err: &DeclineError{Code: CodeCardDeclined, Message: "no"}, code: CodeCardDeclined},
		{name: "deadline", err: context.DeadlineExceeded, code: CodeGatewayTimeout},
		{name: "breaker open", err: ErrGatewayUnavailable, code: CodeGatewayUnavailable},
		{name: "technical", err: errors.New("connection reset"), code: CodeGatewayError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := authorize(context.Background(), &stubGateway{err: tt.err}, Authorization{}, "CC_", "ok")
			require.False(t, res.Success)
			require.Equal(t, tt.code, res.Code)
			require.Empty(t, res.TransactionID)
		})
	}
}

func TestRegistry_SupportedMethods(t *testing.T) {
	registry := DefaultRegistry(&stubGateway{}, RegistryConfig{})
	methods := registry.SupportedMethods()
	require.Len(t, methods, 5)
	require.Equal(t, domain.PaymentMethodCreditCard, methods[0].Method)
	require.Equal(t, "Cash on Delivery", methods[4].DisplayName)

	partial := NewRegistry(NewStripe(&stubGateway{}))
	require.True(t, partial.Supports(domain.PaymentMethodStripe))
	require.False(t, partial.Supports(domain.PaymentMethodPayPal))
}

package domain_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5511912345678", domain.NormalizePhone("+55 (11) 91234-5678"))
	assert.Equal(t, "", domain.NormalizePhone(" - "))
}

func TestCustomerInfoValidate(t *testing.T) {
	info := domain.CustomerInfo{Name: "Ana", Phone: "11 9999", Method: domain.ModeDelivery}
	errs := info.Validate()
	require.Len(t, errs, 1, "delivery requires an address")

	info.Method = domain.ModePickup
	assert.Empty(t, info.Validate())
}

func TestCustomerApplyAndReverse(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	customer := domain.NewCustomer("5511999990000", now)
	order := domain.Order{
		Pricing:         domain.Pricing{TotalCents: 3000},
		Customer:        domain.CustomerSnapshot{Name: "Ana", Address: "Rua A, 1"},
		BottlesToReturn: 2,
	}

	customer.ApplyCheckout(order, true, now)
	customer.ApplyCheckout(order, false, now)
	assert.Equal(t, 2, customer.OrderCount)
	assert.Equal(t, int64(6000), customer.LifetimeValueCents)
	assert.Equal(t, 4, customer.EcoPoints)
	assert.True(t, customer.IsSubscriber, "subscription is sticky")
	assert.Equal(t, []string{"Rua A, 1"}, customer.Addresses)
	require.NotNil(t, customer.LastOrderAt)

	lastOrderAt := *customer.LastOrderAt

	later := now.Add(time.Hour)
	customer.ReverseOrder(order, later)
	customer.ReverseOrder(order, later)
	customer.ReverseOrder(order, later)
	assert.Zero(t, customer.OrderCount)
	assert.Zero(t, customer.LifetimeValueCents)
	assert.Zero(t, customer.EcoPoints)
	assert.Equal(t, []string{"Rua A, 1"}, customer.Addresses)
	require.NotNil(t, customer.LastOrderAt)
	assert.Equal(t, lastOrderAt, *customer.LastOrderAt)
	assert.Equal(t, later, customer.UpdatedAt)
}

func TestCustomerPushAddressCapsAndDedupes(t *testing.T) {
	var customer domain.Customer
	for i := 1; i <= 7; i++ {
		customer.PushAddress(fmt.Sprintf("Rua %d", i))
	}
	customer.PushAddress("rua 5")

	require.Len(t, customer.Addresses, domain.MaxCustomerAddresses)
	assert.Equal(t, []string{"rua 5", "Rua 7", "Rua 6", "Rua 4", "Rua 3"}, customer.Addresses)
}

func TestCustomerAdjustEcoPoints(t *testing.T) {
	now := time.Now()
	customer := domain.Customer{EcoPoints: 3}
	require.NoError(t, customer.AdjustEcoPoints(-3, now))
	assert.Zero(t, customer.EcoPoints)
	require.ErrorIs(t, customer.AdjustEcoPoints(-1, now), domain.ErrValidation)
	assert.Zero(t, customer.EcoPoints)
}

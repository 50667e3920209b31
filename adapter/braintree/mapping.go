package braintree

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paybridge/paybridge/domain"
)

type btCustomer struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	PhoneNumber string    `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toCustomer(c btCustomer) domain.Customer {
	return domain.Customer{
		ID:                  c.ID,
		Email:               c.Email,
		Name:                strings.TrimSpace(c.FirstName + " " + c.LastName),
		Phone:               c.PhoneNumber,
		Processor:           domain.ProcessorBraintree,
		ProcessorCustomerID: c.ID,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.CreatedAt,
	}
}

type btTransaction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

func toCharge(t btTransaction) domain.Charge {
	status := domain.ChargePending
	switch t.Status {
	case "SETTLED", "SETTLING", "SUBMITTED_FOR_SETTLEMENT", "AUTHORIZED":
		status = domain.ChargeSucceeded
	case "FAILED", "PROCESSOR_DECLINED", "GATEWAY_REJECTED", "AUTHORIZATION_EXPIRED":
		status = domain.ChargeFailed
	case "VOIDED":
		status = domain.ChargeRefunded
	}
	return domain.Charge{
		ID:                t.ID,
		Amount:            decimalToMinor(t.Amount.Value),
		Currency:          strings.ToLower(t.Amount.CurrencyCode),
		Status:            status,
		Processor:         domain.ProcessorBraintree,
		ProcessorChargeID: t.ID,
		CreatedAt:         t.CreatedAt,
	}
}

type btPaymentMethod struct {
	ID      string `json:"id"`
	Details struct {
		Last4           string `json:"last4"`
		BrandCode       string `json:"brandCode"`
		ExpirationMonth string `json:"expirationMonth"`
		ExpirationYear  string `json:"expirationYear"`
	} `json:"details"`
}

func toPaymentMethod(pm btPaymentMethod, customerID string) domain.PaymentMethod {
	month, _ := strconv.Atoi(pm.Details.ExpirationMonth)
	year, _ := strconv.Atoi(pm.Details.ExpirationYear)
	return domain.PaymentMethod{
		ID:          pm.ID,
		CustomerID:  customerID,
		Type:        domain.PaymentMethodCard,
		Last4:       pm.Details.Last4,
		Brand:       strings.ToLower(pm.Details.BrandCode),
		ExpiryMonth: month,
		ExpiryYear:  year,
	}
}

// minorToDecimal renders minor units as the "12.34" decimal string the
// GraphQL amount scalar expects.
func minorToDecimal(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// decimalToMinor parses a "12.34" decimal string into minor units.
func decimalToMinor(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}

// normalizeEventData translates notification subjects into the canonical
// payload convention. Braintree's subscription notifications carry the
// subscription subject; transaction notifications carry the transaction.
func normalizeEventData(kind string, subject json.RawMessage) json.RawMessage {
	switch {
	case strings.HasPrefix(kind, "subscription_"):
		var sub struct {
			ID                     string     `json:"id"`
			Status                 string     `json:"status"`
			PlanID                 string     `json:"planId"`
			BillingPeriodStartDate *time.Time `json:"billingPeriodStartDate"`
			BillingPeriodEndDate   *time.Time `json:"billingPeriodEndDate"`
		}
		if err := json.Unmarshal(subject, &sub); err != nil {
			return nil
		}
		patch := domain.SubscriptionPatch{ID: sub.ID}
		if sub.Status != "" {
			status := toSubscriptionStatus(sub.Status)
			patch.Status = &status
		}
		if sub.PlanID != "" {
			patch.PriceID = &sub.PlanID
		}
		if sub.BillingPeriodStartDate != nil {
			patch.CurrentPeriodStart = sub.BillingPeriodStartDate
		}
		if sub.BillingPeriodEndDate != nil {
			patch.CurrentPeriodEnd = sub.BillingPeriodEndDate
		}
		proc := domain.ProcessorBraintree
		patch.Processor = &proc
		return domain.EventPayload{Subscription: &patch}.Encode()
	case strings.HasPrefix(kind, "transaction_"):
		var txn struct {
			SubscriptionID string `json:"subscriptionId"`
			CustomerID     string `json:"customerId"`
		}
		if err := json.Unmarshal(subject, &txn); err != nil {
			return nil
		}
		return domain.EventPayload{
			SubscriptionID: txn.SubscriptionID,
			CustomerID:     txn.CustomerID,
		}.Encode()
	default:
		return nil
	}
}

func toSubscriptionStatus(s string) domain.SubscriptionStatus {
	switch s {
	case "Active":
		return domain.StatusActive
	case "PastDue":
		return domain.StatusPastDue
	case "Canceled", "Expired":
		return domain.StatusCanceled
	default:
		return domain.StatusPaused
	}
}

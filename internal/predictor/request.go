package predictor

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Fields lists the record's column names in the order the deployment expects.
var Fields = []string{
	"order_id",
	"customer_id",
	"currency",
	"order_date",
	"status",
	"country_code",
	"payment_method",
	"fraud_flag",
	"delivery_days",
	"customer_age",
	"product_category",
}

// Choices offered for the enumerated fields.
var (
	Currencies        = []string{"USD", "INR", "EUR", "BTC"}
	Statuses          = []string{"Completed", "Pending", "Cancelled"}
	PaymentMethods    = []string{"Credit Card", "Debit Card", "PayPal", "Bitcoin"}
	FraudFlags        = []string{"Yes", "No"}
	ProductCategories = []string{"Electronics", "Clothing", "Automotive", "Toys"}
)

// Lower bounds of the numeric fields.
const (
	MinOrderID      = 10000
	MinCustomerID   = 1000
	MinDeliveryDays = 1
	MinCustomerAge  = 18
	MaxCustomerAge  = 100
)

// Request is one order record submitted for a data-quality verdict.
type Request struct {
	OrderID         int
	CustomerID      int
	Currency        string
	OrderDate       time.Time
	Status          string
	CountryCode     string
	PaymentMethod   string
	FraudFlag       string
	DeliveryDays    int
	CustomerAge     int
	ProductCategory string
}

// DefaultRequest returns a record filled with the form's initial values.
func DefaultRequest(now time.Time) Request {
	return Request{
		OrderID:         MinOrderID,
		CustomerID:      MinCustomerID,
		Currency:        Currencies[0],
		OrderDate:       now,
		Status:          Statuses[0],
		PaymentMethod:   PaymentMethods[0],
		FraudFlag:       FraudFlags[0],
		DeliveryDays:    MinDeliveryDays,
		CustomerAge:     MinCustomerAge,
		ProductCategory: ProductCategories[0],
	}
}

// Values returns the record in wire order, matching Fields.
func (r Request) Values() []any {
	return []any{
		r.OrderID,
		r.CustomerID,
		r.Currency,
		r.OrderDate.Format("2006-01-02"),
		r.Status,
		r.CountryCode,
		r.PaymentMethod,
		r.FraudFlag,
		r.DeliveryDays,
		r.CustomerAge,
		r.ProductCategory,
	}
}

// FieldError reports one invalid field of a Request.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// Validate checks the record against the form's bounds and choices. All
// problems are reported together; each is a *FieldError.
func (r Request) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	if r.OrderID < MinOrderID {
		add("order_id", "must be at least %d", MinOrderID)
	}
	if r.CustomerID < MinCustomerID {
		add("customer_id", "must be at least %d", MinCustomerID)
	}
	oneOf := func(field, v string, allowed []string) {
		if !slices.Contains(allowed, v) {
			add(field, "%q is not one of %s", v, strings.Join(allowed, ", "))
		}
	}
	oneOf("currency", r.Currency, Currencies)
	if r.OrderDate.IsZero() {
		add("order_date", "is required")
	}
	oneOf("status", r.Status, Statuses)
	oneOf("payment_method", r.PaymentMethod, PaymentMethods)
	oneOf("fraud_flag", r.FraudFlag, FraudFlags)
	if r.DeliveryDays < MinDeliveryDays {
		add("delivery_days", "must be at least %d", MinDeliveryDays)
	}
	if r.CustomerAge < MinCustomerAge || r.CustomerAge > MaxCustomerAge {
		add("customer_age", "must be between %d and %d", MinCustomerAge, MaxCustomerAge)
	}
	oneOf("product_category", r.ProductCategory, ProductCategories)
	return errors.Join(errs...)
}

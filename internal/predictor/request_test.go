package predictor

import (
	"errors"
	"testing"
	"time"
)

func TestValuesFollowFieldOrder(t *testing.T) {
	vals := validRequest().Values()
	if len(vals) != len(Fields) {
		t.Fatalf("len(values) = %d, len(fields) = %d", len(vals), len(Fields))
	}
	want := []any{10001, 1234, "USD", "2024-03-09", "Completed", "US", "PayPal", "No", 3, 42, "Toys"}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("%s = %v, want %v", Fields[i], vals[i], want[i])
		}
	}
}

func TestValidateAcceptsValidRequest(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	def := DefaultRequest(time.Now())
	if def.CountryCode != "" {
		t.Fatalf("default country = %q, want empty", def.CountryCode)
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("default request invalid: %v", err)
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	bad := Request{
		OrderID:         9999,
		CustomerID:      999,
		Currency:        "GBP",
		Status:          "Lost",
		PaymentMethod:   "Cash",
		FraudFlag:       "Maybe",
		DeliveryDays:    0,
		CustomerAge:     101,
		ProductCategory: "Food",
	}
	err := bad.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	got := map[string]bool{}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("expected joined errors, got %T", err)
	}
	for _, e := range joined.Unwrap() {
		var fe *FieldError
		if !errors.As(e, &fe) {
			t.Fatalf("unexpected error %T: %v", e, e)
		}
		got[fe.Field] = true
	}
	for _, f := range Fields {
		if f == "country_code" {
			if got[f] {
				t.Errorf("empty country_code reported as invalid")
			}
			continue
		}
		if !got[f] {
			t.Errorf("no error reported for %s", f)
		}
	}
}

func TestValidateAgeBounds(t *testing.T) {
	for age, ok := range map[int]bool{17: false, 18: true, 100: true, 101: false} {
		r := validRequest()
		r.CustomerAge = age
		if err := r.Validate(); (err == nil) != ok {
			t.Errorf("age %d: err = %v", age, err)
		}
	}
}

package validation

import "testing"

func TestReceiverAccountMatches(t *testing.T) {
	tests := []struct {
		name       string
		slip       string
		configured string
		want       bool
	}{
		{name: "masked slip does not match", slip: "xxx-x-x1234-x", configured: "111-2-33333-0", want: false},
		{name: "masked slip suffix in configured", slip: "xxx-x-x1234-x", configured: "987-6-51234-9", want: true},
		{name: "configured suffix in slip", slip: "0123456789", configured: "xxx6789", want: true},
		{name: "proxy phone", slip: "081-xxx-5678", configured: "0812345678", want: true},
		{name: "mismatch", slip: "xxx-x-x9999-x", configured: "111-2-31234-5", want: false},
		{name: "too few slip digits", slip: "xx-12", configured: "0812345678", want: false},
		{name: "empty configured", slip: "xxx-x-x1234-x", configured: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReceiverAccountMatches(tt.slip, tt.configured); got != tt.want {
				t.Errorf("ReceiverAccountMatches(%q, %q) = %v, want %v", tt.slip, tt.configured, got, tt.want)
			}
		})
	}
}

func TestIsValidSubdomain(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"myshop", true},
		{"shop-1", true},
		{"ab", true},
		{"-shop", false},
		{"shop-", false},
		{"My.Shop", false},
		{"admin", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidSubdomain(tt.name); got != tt.want {
				t.Errorf("IsValidSubdomain(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestStruct(t *testing.T) {
	type req struct {
		ProductID int64  `json:"productId" validate:"gt=0"`
		Quantity  int    `json:"quantity" validate:"min=1,max=100"`
		Subdomain string `json:"subdomain" validate:"omitempty,subdomain"`
	}

	if errs := Struct(req{ProductID: 1, Quantity: 1}); errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}

	errs := Struct(req{ProductID: 0, Quantity: 101, Subdomain: "Bad_Name"})
	for _, field := range []string{"productId", "quantity", "subdomain"} {
		if _, ok := errs[field]; !ok {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}
}

package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/receipts/17":           "/v1/receipts/:id",
		"/v1/tenants/3/payments":    "/v1/tenants/:id/payments",
		"/tenants/3/payments":       "/tenants/:id/payments",
		"/v1/rooms/available":       "/v1/rooms/available",
		"/v1/rooms?status=occupied": "/v1/rooms",
		"/receipts/abc":             "/receipts/abc",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

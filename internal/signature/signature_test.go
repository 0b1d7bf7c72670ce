package signature

import (
	"strings"
	"testing"
)

const testSecret = "whsk_test_secret"

var testBody = []byte(`{"data":{"id":"evt_1","type":"payment.paid","attributes":{"amount":3356,"currency":"PHP","metadata":{"orderId":"ORD-001"}}}}`)

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)
	valid := v.Sign(testBody)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
		want   bool
	}{
		{name: "bare hex", secret: testSecret, body: testBody, header: valid, want: true},
		{name: "prefixed hex", secret: testSecret, body: testBody, header: "sha256=" + valid, want: true},
		{name: "uppercase hex", secret: testSecret, body: testBody, header: strings.ToUpper(valid), want: true},
		{name: "surrounding whitespace", secret: testSecret, body: testBody, header: " " + valid + " ", want: true},
		{name: "empty header", secret: testSecret, body: testBody, header: "", want: false},
		{name: "prefix only", secret: testSecret, body: testBody, header: "sha256=", want: false},
		{name: "non-hex", secret: testSecret, body: testBody, header: "zz" + valid[2:], want: false},
		{name: "odd length", secret: testSecret, body: testBody, header: valid[1:], want: false},
		{name: "truncated", secret: testSecret, body: testBody, header: valid[:32], want: false},
		{name: "wrong secret", secret: "other", body: testBody, header: valid, want: false},
		{name: "empty secret", secret: "", body: testBody, header: NewVerifier("").Sign(testBody), want: false},
		{name: "different body", secret: testSecret, body: []byte(`{}`), header: valid, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewVerifier(tt.secret).Verify(tt.body, tt.header)
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_SingleByteFlips(t *testing.T) {
	v := NewVerifier(testSecret)
	sig := v.Sign(testBody)

	for i := 0; i < len(sig); i++ {
		flipped := []byte(sig)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}
		if v.Verify(testBody, string(flipped)) {
			t.Fatalf("Verify() accepted signature with byte %d flipped", i)
		}
	}

	for i := range testBody {
		body := append([]byte(nil), testBody...)
		body[i] ^= 0x01
		if v.Verify(body, sig) {
			t.Fatalf("Verify() accepted body with byte %d flipped", i)
		}
	}
}

func TestSign_Deterministic(t *testing.T) {
	v := NewVerifier(testSecret)
	a, b := v.Sign(testBody), v.Sign(testBody)
	if a != b {
		t.Errorf("Sign() not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Sign() length = %d, want 64", len(a))
	}
}

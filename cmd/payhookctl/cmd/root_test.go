package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/payhook/internal/event"
	"github.com/austindbirch/payhook/internal/signature"
	"github.com/austindbirch/payhook/internal/webhook"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: "(unset)"},
		{name: "short", in: "abc", want: "****"},
		{name: "long", in: "whsk_live_123", want: "whsk****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSecret(tt.in); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetConfigValue(t *testing.T) {
	t.Cleanup(func() {
		viper.Set("server", "http://localhost:8080")
		viper.Set("timeout", "30s")
		viper.Set("json", false)
		viper.Set("secret", "")
	})

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{name: "server", key: "server", value: "http://payhook:8080"},
		{name: "timeout", key: "timeout", value: "45s"},
		{name: "bad timeout", key: "timeout", value: "soon", wantErr: true},
		{name: "json true", key: "json", value: "yes"},
		{name: "bad bool", key: "json", value: "maybe", wantErr: true},
		{name: "secret", key: "secret", value: "whsk_test"},
		{name: "unknown key", key: "grpc", value: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setConfigValue(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("setConfigValue(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestBuildEvent(t *testing.T) {
	tests := []struct {
		name     string
		opts     sendOptions
		wantKind event.Kind
		wantErr  bool
	}{
		{
			name:     "short paid",
			opts:     sendOptions{kind: "paid", orderID: "ORD-001", customer: "C1", vendor: "V1", amount: 3356, currency: "php"},
			wantKind: event.PaymentPaid,
		},
		{
			name:     "wire failed",
			opts:     sendOptions{kind: "payment.failed", orderID: "ORD-001", reason: "card declined", currency: "PHP"},
			wantKind: event.PaymentFailed,
		},
		{
			name:     "chargeable",
			opts:     sendOptions{kind: "chargeable", orderID: "ORD-9", amount: 100, currency: "PHP"},
			wantKind: event.SourceChargeable,
		},
		{name: "unknown kind", opts: sendOptions{kind: "refund", orderID: "ORD-1"}, wantErr: true},
		{name: "missing order", opts: sendOptions{kind: "paid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := buildEvent(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			evt, err := event.Decode(body)
			if err != nil {
				t.Fatalf("Decode(buildEvent()) error: %v", err)
			}
			if evt.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", evt.Kind, tt.wantKind)
			}
			md := evt.Attributes.Metadata
			if md.OrderID != tt.opts.orderID || md.CustomerID != tt.opts.customer || md.FailureReason != tt.opts.reason {
				t.Errorf("Metadata = %+v", md)
			}
			if evt.Attributes.Amount != tt.opts.amount {
				t.Errorf("Amount = %d, want %d", evt.Attributes.Amount, tt.opts.amount)
			}
			if evt.Attributes.Currency != strings.ToUpper(tt.opts.currency) {
				t.Errorf("Currency = %q", evt.Attributes.Currency)
			}
			if evt.ID == "" {
				t.Error("event id should be derived when not given")
			}
		})
	}
}

func TestPostWebhook(t *testing.T) {
	verifier := signature.NewVerifier("whsk_test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != webhook.Path {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !verifier.Verify(body, r.Header.Get("Paymongo-Signature")) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationError","message":"invalid webhook signature"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	body, _ := buildEvent(sendOptions{kind: "paid", orderID: "ORD-001", amount: 100, currency: "PHP"})

	tests := []struct {
		name       string
		sig        string
		wantStatus int
		wantBody   string
	}{
		{name: "valid signature", sig: verifier.Sign(body), wantStatus: http.StatusOK, wantBody: `{"success":true}`},
		{name: "bad signature", sig: strings.Repeat("0", 64), wantStatus: http.StatusUnauthorized, wantBody: "AuthenticationError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := postWebhook(context.Background(), srv.Client(), srv.URL, "Paymongo-Signature", tt.sig, body)
			if err != nil {
				t.Fatalf("postWebhook() error: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", res.Status, tt.wantStatus)
			}
			if !strings.Contains(string(res.Body), tt.wantBody) {
				t.Errorf("Body = %s, want to contain %s", res.Body, tt.wantBody)
			}
		})
	}

	t.Run("non-json body is quoted", func(t *testing.T) {
		plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		defer plain.Close()
		res, err := postWebhook(context.Background(), plain.Client(), plain.URL, "X", "sig", body)
		if err != nil {
			t.Fatalf("postWebhook() error: %v", err)
		}
		var s string
		if err := json.Unmarshal(res.Body, &s); err != nil || !strings.Contains(s, "bad gateway") {
			t.Errorf("Body = %s, want quoted text", res.Body)
		}
	})
}

func TestHTTPHealth(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantOK   bool
		wantCode int
		wantErr  bool
	}{
		{name: "healthy", code: 200, body: `{"ok":true,"message":"ok","database":true}`, wantOK: true, wantCode: 200},
		{name: "unhealthy", code: 503, body: `{"ok":false,"message":"db ping failed"}`, wantCode: 503},
		{name: "garbage", code: 200, body: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			st, code, err := httpHealth(context.Background(), srv.Client(), srv.URL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("httpHealth() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if st.OK != tt.wantOK || code != tt.wantCode {
				t.Errorf("httpHealth() = (%+v, %d), want ok=%v code=%d", st, code, tt.wantOK, tt.wantCode)
			}
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := grpcHealth(ctx, lis.Addr().String())
	if err != nil {
		t.Fatalf("grpcHealth() error: %v", err)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("grpcHealth() = %s, want SERVING", status)
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	status, err = grpcHealth(ctx, lis.Addr().String())
	if err != nil {
		t.Fatalf("grpcHealth() error: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("grpcHealth() = %s, want NOT_SERVING", status)
	}
}

// execute runs the CLI with args and returns what it printed
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSignAndVerifyCommands(t *testing.T) {
	body := `{"data":{"id":"evt_1"}}`
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write body: %v", err)
	}
	want := signature.NewVerifier("whsk_test").Sign([]byte(body))

	out, err := execute(t, "", "sign", path, "--secret", "whsk_test")
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	if strings.TrimSpace(out) != want {
		t.Errorf("sign printed %q, want %q", out, want)
	}

	out, err = execute(t, body, "sign", "-", "--secret", "whsk_test")
	if err != nil {
		t.Fatalf("sign from stdin error: %v", err)
	}
	if strings.TrimSpace(out) != want {
		t.Errorf("sign - printed %q, want %q", out, want)
	}

	if _, err := execute(t, "", "verify", path, want, "--secret", "whsk_test"); err != nil {
		t.Errorf("verify with good signature error: %v", err)
	}
	if _, err := execute(t, "", "verify", path, strings.Repeat("0", 64), "--secret", "whsk_test"); err == nil {
		t.Error("verify with bad signature should fail")
	}
}

func TestSendCommand(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		if !signature.NewVerifier("whsk_test").Verify(got, r.Header.Get("Paymongo-Signature")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	out, err := execute(t, "", "send", "--server", srv.URL, "--secret", "whsk_test",
		"--kind", "paid", "--order", "ORD-001", "--amount", "3356")
	if err != nil {
		t.Fatalf("send error: %v (%s)", err, out)
	}
	if !strings.Contains(out, "HTTP 200") {
		t.Errorf("send printed %q", out)
	}
	evt, err := event.Decode(got)
	if err != nil || evt.Attributes.Metadata.OrderID != "ORD-001" {
		t.Errorf("server received %s (%v)", got, err)
	}
}

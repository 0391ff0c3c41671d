package paypal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/storefrontlabs/billing-sync/pkg/config"
)

func testConfig() config.PayPalConfig {
	return config.PayPalConfig{
		Environment:  "sandbox",
		NVPUser:      "merchant_api1.example.com",
		NVPPassword:  "pw",
		NVPSignature: "sig",
		CallTimeout:  5 * time.Second,
	}
}

func TestNewNVPClientRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.NVPSignature = ""
	if _, err := NewNVPClient(cfg); err == nil {
		t.Fatalf("expected credential error")
	}
}

func TestNewNVPClientRejectsUnknownEnvironment(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "staging"
	if _, err := NewNVPClient(cfg); err == nil {
		t.Fatalf("expected environment error")
	}
}

func TestCallEncodesAndDecodes(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.Write([]byte("ACK=Success&PROFILEID=I-ABC123&STATUS=Active"))
	}))
	defer srv.Close()

	client, err := NewNVPClient(testConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.endpoint = srv.URL

	resp, err := client.GetProfileDetails(context.Background(), "I-ABC123")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected success ack, got %q", resp.Ack())
	}
	if resp.Get("STATUS") != "Active" {
		t.Fatalf("status = %q", resp.Get("STATUS"))
	}
	if gotForm.Get("METHOD") != "GetRecurringPaymentsProfileDetails" {
		t.Fatalf("method = %q", gotForm.Get("METHOD"))
	}
	if gotForm.Get("USER") != "merchant_api1.example.com" {
		t.Fatalf("credentials not attached: %v", gotForm)
	}
	if gotForm.Get("PROFILEID") != "I-ABC123" {
		t.Fatalf("profile id not attached: %v", gotForm)
	}
}

func TestCallSurfacesFailureAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ACK=Failure&L_ERRORCODE0=11556&L_LONGMESSAGE0=Invalid+profile+status"))
	}))
	defer srv.Close()

	client, err := NewNVPClient(testConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.endpoint = srv.URL

	resp, err := client.ManageProfileStatus(context.Background(), "I-ABC123", "Cancel", "customer request")
	if err != nil {
		t.Fatalf("call should not error on ack failure: %v", err)
	}
	if resp.OK() {
		t.Fatalf("expected failure ack")
	}
	if resp.ErrorCode() != "11556" {
		t.Fatalf("error code = %q", resp.ErrorCode())
	}
	if resp.ErrorMessage() != "Invalid profile status" {
		t.Fatalf("error message = %q", resp.ErrorMessage())
	}
}

func TestCallRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewNVPClient(testConfig())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.endpoint = srv.URL

	if _, err := client.GetProfileDetails(context.Background(), "I-ABC123"); err == nil {
		t.Fatalf("expected transport error on 502")
	}
}

package threecommas

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-key", "test-secret", server.URL, zerolog.Nop())
}

func TestRequestSigning(t *testing.T) {
	var gotKey, gotSignature, gotPath string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("APIKEY")
		gotSignature = r.Header.Get("Signature")
		gotPath = r.URL.Path
		w.Write([]byte(`{"id": 12345}`))
	})

	if _, err := client.GetBot(context.Background(), 12345); err != nil {
		t.Fatalf("GetBot failed: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("APIKEY = %q, want test-key", gotKey)
	}
	if gotPath != "/public/api/ver1/bots/12345/show" {
		t.Errorf("path = %q", gotPath)
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("/public/api/ver1/bots/12345/show"))
	if want := hex.EncodeToString(mac.Sum(nil)); gotSignature != want {
		t.Errorf("Signature = %q, want %q", gotSignature, want)
	}
}

// TestGetAccountMarketCode verifies the accounts endpoint path and the
// market_code extraction.
func TestGetAccountMarketCode(t *testing.T) {
	var gotPath string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"id": 555, "market_code": "binance", "name": "Main"}`))
	})

	code, err := client.GetAccountMarketCode(context.Background(), 555)
	if err != nil {
		t.Fatalf("GetAccountMarketCode failed: %v", err)
	}
	if gotPath != "/public/api/ver1/accounts/555" {
		t.Errorf("path = %q", gotPath)
	}
	if code != "binance" {
		t.Errorf("market code = %q, want binance", code)
	}
}

func TestRequestSigningCoversBody(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"id": 901, "stop_loss_percentage": "-0.5", "take_profit": "5.0"}`))
	})

	tp := 5.0
	_, err := client.UpdateDeal(context.Background(), 901, DealUpdate{
		DealID:             901,
		StopLossPercentage: -0.5,
		TakeProfit:         &tp,
	})
	if err != nil {
		t.Fatalf("UpdateDeal failed: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("/public/api/ver1/deals/901/update_deal"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSignature != want {
		t.Errorf("Signature = %q, want %q", gotSignature, want)
	}
}

func TestGetBotDecodesDeals(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": 12345,
			"name": "Test bot",
			"take_profit": "1.5",
			"max_safety_orders": 3,
			"active_deals": [
				{"id": 901, "pair": "USDT_BTC", "strategy": "long", "status": "bought", "actual_profit_percentage": "2.25"}
			]
		}`))
	})

	bot, err := client.GetBot(context.Background(), 12345)
	if err != nil {
		t.Fatalf("GetBot failed: %v", err)
	}

	if bot.TakeProfitPercentage() != 1.5 {
		t.Errorf("TakeProfitPercentage = %v, want 1.5", bot.TakeProfitPercentage())
	}
	if len(bot.ActiveDeals) != 1 {
		t.Fatalf("expected 1 deal, got %d", len(bot.ActiveDeals))
	}
	deal := bot.ActiveDeals[0]
	if profit, ok := deal.ProfitPercentage(); !ok || profit != 2.25 {
		t.Errorf("ProfitPercentage = %v/%v, want 2.25/true", profit, ok)
	}
}

func TestCancelOrderScansStatus(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     bool
	}{
		{
			"order cancelled",
			`[{"order_id": 555, "status_string": "Cancelled"}]`,
			true,
		},
		{
			"order filled instead",
			`[{"order_id": 555, "status_string": "Filled"}]`,
			false,
		},
		{
			"order not listed",
			`[{"order_id": 777, "status_string": "Cancelled"}]`,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.response))
			})

			cancelled, err := client.CancelOrder(context.Background(), 901, "555")
			if err != nil {
				t.Fatalf("CancelOrder failed: %v", err)
			}
			if cancelled != tt.want {
				t.Errorf("cancelled = %v, want %v", cancelled, tt.want)
			}
		})
	}
}

func TestGetOrderIDMatchesTypeAndStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"order_id": 100, "deal_order_type": "Base", "status_string": "Filled"},
			{"order_id": 200, "deal_order_type": "Manual Safety", "status_string": "Filled"},
			{"order_id": 300, "deal_order_type": "Manual Safety", "status_string": "Active"}
		]`))
	})

	orderID, err := client.GetOrderID(context.Background(), 901, OrderTypeManualSafety, OrderStatusActive)
	if err != nil {
		t.Fatalf("GetOrderID failed: %v", err)
	}
	if orderID != "300" {
		t.Errorf("orderID = %q, want 300", orderID)
	}
}

func TestGetOrderIDNoMatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"order_id": 100, "deal_order_type": "Base", "status_string": "Filled"}]`))
	})

	orderID, err := client.GetOrderID(context.Background(), 901, OrderTypeManualSafety, OrderStatusActive)
	if err != nil {
		t.Fatalf("GetOrderID failed: %v", err)
	}
	if orderID != "" {
		t.Errorf("orderID = %q, want empty", orderID)
	}
}

func TestAddFundsChecksStatus(t *testing.T) {
	var gotPayload map[string]interface{}
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"status": "success"}`))
	})

	if err := client.AddFunds(context.Background(), 901, 0.16, 94.0); err != nil {
		t.Fatalf("AddFunds failed: %v", err)
	}
	if gotPayload["quantity"] != 0.16 || gotPayload["rate"] != 94.0 {
		t.Errorf("payload = %v", gotPayload)
	}
	if gotPayload["is_market"] != false {
		t.Error("add funds must place a limit order")
	}
}

func TestAddFundsRejection(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error"}`))
	})

	if err := client.AddFunds(context.Background(), 901, 0.16, 94.0); err == nil {
		t.Fatal("non-success status must be an error")
	}
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, `{"msg": "try later"}`, http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id": 12345}`))
	})

	bot, err := client.GetBot(context.Background(), 12345)
	if err != nil {
		t.Fatalf("GetBot failed after retries: %v", err)
	}
	if bot.ID != 12345 {
		t.Errorf("bot ID = %d", bot.ID)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	attempts := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, `{"msg": "not found"}`, http.StatusNotFound)
	})

	if _, err := client.GetBot(context.Background(), 12345); err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want no retries on a 4xx", attempts)
	}
}

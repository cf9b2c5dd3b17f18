package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sol-trader/internal/config"
)

func TestGetSwapTransaction(t *testing.T) {
	var swapCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			q := r.URL.Query()
			if q.Get("amount") != "100000" || q.Get("slippageBps") != "1300" {
				t.Errorf("unexpected quote params %v", q)
			}
			_, _ = w.Write([]byte(`{"inAmount":"100000","outAmount":"42","routePlan":[{"swapInfo":{}}]}`))
		case "/swap":
			swapCalls++
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode swap body: %v", err)
			}
			if body["userPublicKey"] != "user" {
				t.Errorf("unexpected user %v", body["userPublicKey"])
			}
			if body["prioritizationFeeLamports"] != float64(5000) {
				t.Errorf("unexpected fee %v", body["prioritizationFeeLamports"])
			}
			if _, ok := body["quoteResponse"].(map[string]interface{}); !ok {
				t.Errorf("quoteResponse must be forwarded verbatim")
			}
			_, _ = w.Write([]byte(`{"swapTransaction":"` + base64.StdEncoding.EncodeToString([]byte{7, 8, 9}) + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(config.JupiterConfig{BaseURL: srv.URL}, nil)
	tx, err := c.GetSwapTransaction(context.Background(), SwapRequest{
		User: "user", InputMint: "A", OutputMint: "B",
		Amount: 100000, SlippageBps: 1300, PriorityFeeLamports: 5000,
	})
	if err != nil {
		t.Fatalf("GetSwapTransaction returned error: %v", err)
	}
	if len(tx) != 3 || tx[0] != 7 {
		t.Fatalf("unexpected tx bytes %v", tx)
	}
	if swapCalls != 1 {
		t.Fatalf("expected one swap call, got %d", swapCalls)
	}
}

func TestGetSwapTransaction_NoRoute(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"error code":   {http.StatusBadRequest, `{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`},
		"not found":    {http.StatusNotFound, `{}`},
		"empty routes": {http.StatusOK, `{"outAmount":"0","routePlan":[]}`},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/swap" {
					t.Errorf("swap must not be requested without a route")
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			tx, err := NewClient(config.JupiterConfig{BaseURL: srv.URL}, nil).
				GetSwapTransaction(context.Background(), SwapRequest{Amount: 1})
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if tx != nil {
				t.Fatalf("expected nil tx, got %v", tx)
			}
		})
	}
}

func TestGetSwapTransaction_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	_, err := NewClient(config.JupiterConfig{BaseURL: srv.URL}, nil).
		GetSwapTransaction(context.Background(), SwapRequest{Amount: 1})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("vsToken") != "SOL" {
			t.Errorf("unexpected vsToken %q", r.URL.Query().Get("vsToken"))
		}
		switch r.URL.Query().Get("ids") {
		case "known":
			_, _ = w.Write([]byte(`{"data":{"known":{"id":"known","price":"0.0000500"}}}`))
		case "numeric":
			_, _ = w.Write([]byte(`{"data":{"numeric":{"id":"numeric","price":0.25}}}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"missing":null}}`))
		}
	}))
	defer srv.Close()

	p := NewPriceClient(config.JupiterConfig{PriceURL: srv.URL}, "SOL", nil)
	ctx := context.Background()

	price, ok, err := p.GetPrice(ctx, "known")
	if err != nil || !ok {
		t.Fatalf("expected price, got ok=%v err=%v", ok, err)
	}
	if price.String() != "0.00005" {
		t.Errorf("unexpected price %s", price)
	}

	price, ok, err = p.GetPrice(ctx, "numeric")
	if err != nil || !ok || price.String() != "0.25" {
		t.Errorf("unexpected numeric price %s ok=%v err=%v", price, ok, err)
	}

	_, ok, err = p.GetPrice(ctx, "missing")
	if err != nil || ok {
		t.Errorf("expected unavailable, got ok=%v err=%v", ok, err)
	}
}

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-oms/internal/domain"
	api "mini-oms/internal/http"
	"mini-oms/internal/storefront"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTP_CreateOrder(t *testing.T) {
	productID := uuid.New()
	var (
		gotKey  string
		gotAuth string
		gotBody api.CreateOrderRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/orders", r.URL.Path)
		gotKey = r.Header.Get(api.IdempotencyHeader)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusCreated, domain.Order{ID: uuid.New(), Status: domain.OrderCreated, Total: 3_000})
	}))
	defer srv.Close()

	b := NewHTTP(srv.URL+"/", srv.Client())
	sess := storefront.StaticSession{Actor: customer.Actor, AccessToken: "tok"}
	o, err := b.CreateOrder(context.Background(), sess, domain.CheckoutRequest{
		Lines:          []domain.LineRequest{{ProductID: productID, Quantity: 3}},
		Notes:          "gift",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCreated, o.Status)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "gift", gotBody.Notes)
	assert.Equal(t, []domain.LineRequest{{ProductID: productID, Quantity: 3}}, gotBody.Items)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"stock", http.StatusConflict, api.ErrorBody{Error: "stock_unavailable", Message: "insufficient stock for Laptop"}, domain.ErrStockUnavailable},
		{"forbidden", http.StatusForbidden, api.ErrorBody{Error: "forbidden", Message: "access forbidden"}, domain.ErrForbidden},
		{"not found", http.StatusNotFound, api.ErrorBody{Error: "order_not_found", Message: "order not found"}, domain.ErrOrderNotFound},
		{"product not found", http.StatusNotFound, api.ErrorBody{Error: "product_not_found", Message: "product not found"}, domain.ErrProductNotFound},
		{"server error", http.StatusInternalServerError, api.ErrorBody{Error: "internal", Message: "internal server error"}, domain.ErrTransport},
		{"bad gateway", http.StatusBadGateway, "upstream", domain.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL, srv.Client()).GetOrder(context.Background(), customer, uuid.New())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url, nil).ListProducts(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}

func TestHTTP_RejectPayment(t *testing.T) {
	paymentID := uuid.New()
	var got api.RejectPaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/payments/"+paymentID.String()+"/reject", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, api.DecisionResponse{
			Payment: &domain.Payment{ID: paymentID, Status: domain.PaymentRejected},
			Order:   &domain.Order{Status: domain.OrderCreated},
		})
	}))
	defer srv.Close()

	p, o, err := NewHTTP(srv.URL, srv.Client()).RejectPayment(context.Background(), admin, paymentID, "wrong amount")
	require.NoError(t, err)
	assert.Equal(t, "wrong amount", got.Reason)
	assert.Equal(t, domain.PaymentRejected, p.Status)
	assert.Equal(t, domain.OrderCreated, o.Status)
}

func TestHTTP_Login(t *testing.T) {
	userID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, api.ErrorBody{Error: "invalid_credentials", Message: "invalid email or password"})
			return
		}
		writeJSON(w, http.StatusOK, api.TokenResponse{
			User:        &domain.User{ID: userID, Email: req.Email, Role: domain.RoleAdmin},
			AccessToken: "jwt",
			TokenType:   "Bearer",
		})
	}))
	defer srv.Close()
	b := NewHTTP(srv.URL, srv.Client())

	_, err := b.Login(context.Background(), "admin@example.com", "nope")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	sess, err := b.Login(context.Background(), "admin@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt", sess.Token())
	actor, ok := sess.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, userID, actor.ID)
	assert.True(t, actor.IsAdmin())
}

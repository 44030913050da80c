package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
	api "mini-oms/internal/http"
	"mini-oms/internal/storefront"
)

// HTTP talks to the API server. Error bodies are decoded back into their
// domain sentinels; network failures and 5xx responses become
// domain.ErrTransport because the outcome is unknown.
type HTTP struct {
	baseURL string
	client  *http.Client
}

var _ storefront.Backend = (*HTTP)(nil)

func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type call struct {
	method string
	path   string
	sess   storefront.Session
	key    string
	body   any
}

func decodeError(status int, body []byte) error {
	var eb api.ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return fmt.Errorf("unexpected response %d: %s", status, bytes.TrimSpace(body))
	}
	if sentinel, ok := domain.ErrorForCode(eb.Error); ok {
		return sentinel.Withf("%s", eb.Message)
	}
	switch eb.Error {
	case "invalid_credentials":
		return domain.ErrUnauthenticated.Withf("%s", eb.Message)
	case "email_taken":
		return domain.ErrInvalidRequest.Withf("%s", eb.Message)
	}
	return fmt.Errorf("%s: %s", eb.Error, eb.Message)
}

func (h *HTTP) do(ctx context.Context, c call, out any) error {
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, h.baseURL+c.path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sess != nil {
		if tok := c.sess.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if c.key != "" {
		req.Header.Set(api.IdempotencyHeader, c.key)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.ErrTransport.Wrap(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ErrTransport.Wrap(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.ErrTransport.Wrap(decodeError(resp.StatusCode, data))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", c.method, c.path, err)
	}
	return nil
}

func (h *HTTP) session(resp api.TokenResponse) (storefront.StaticSession, error) {
	if resp.User == nil {
		return storefront.StaticSession{}, errors.New("token response has no user")
	}
	return storefront.StaticSession{Actor: resp.User.Actor(), AccessToken: resp.AccessToken}, nil
}

// Register creates a customer account and returns its session.
func (h *HTTP) Register(ctx context.Context, name, email, password string) (storefront.StaticSession, error) {
	var resp api.TokenResponse
	err := h.do(ctx, call{method: http.MethodPost, path: "/api/auth/register", body: api.RegisterRequest{Name: name, Email: email, Password: password}}, &resp)
	if err != nil {
		return storefront.StaticSession{}, err
	}
	return h.session(resp)
}

// Login exchanges credentials for a session carrying the access token.
func (h *HTTP) Login(ctx context.Context, email, password string) (storefront.StaticSession, error) {
	var resp api.TokenResponse
	err := h.do(ctx, call{method: http.MethodPost, path: "/api/auth/login", body: api.LoginRequest{Email: email, Password: password}}, &resp)
	if err != nil {
		return storefront.StaticSession{}, err
	}
	return h.session(resp)
}

func (h *HTTP) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	if err := h.do(ctx, call{method: http.MethodGet, path: "/api/products"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) CreateOrder(ctx context.Context, sess storefront.Session, req domain.CheckoutRequest) (*domain.Order, error) {
	var out domain.Order
	err := h.do(ctx, call{
		method: http.MethodPost,
		path:   "/api/orders",
		sess:   sess,
		key:    req.IdempotencyKey,
		body:   api.CreateOrderRequest{Items: req.Lines, Notes: req.Notes},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) orderAction(ctx context.Context, sess storefront.Session, orderID uuid.UUID, action string) (*domain.Order, error) {
	var out domain.Order
	if err := h.do(ctx, call{method: http.MethodPost, path: "/api/orders/" + orderID.String() + "/" + action, sess: sess}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) CancelOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Order, error) {
	return h.orderAction(ctx, sess, orderID, "cancel")
}

func (h *HTTP) CompleteOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Order, error) {
	return h.orderAction(ctx, sess, orderID, "complete")
}

func (h *HTTP) CreatePayment(ctx context.Context, sess storefront.Session, req domain.PaymentRequest) (*domain.Payment, error) {
	var out domain.Payment
	err := h.do(ctx, call{
		method: http.MethodPost,
		path:   "/api/payments",
		sess:   sess,
		key:    req.IdempotencyKey,
		body: api.CreatePaymentRequest{
			OrderID:  req.OrderID,
			Method:   req.Method,
			ProofRef: req.ProofRef,
			Notes:    req.Notes,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) decide(ctx context.Context, sess storefront.Session, paymentID uuid.UUID, action string, body any) (*domain.Payment, *domain.Order, error) {
	var out api.DecisionResponse
	err := h.do(ctx, call{method: http.MethodPost, path: "/api/payments/" + paymentID.String() + "/" + action, sess: sess, body: body}, &out)
	if err != nil {
		return nil, nil, err
	}
	return out.Payment, out.Order, nil
}

func (h *HTTP) VerifyPayment(ctx context.Context, sess storefront.Session, paymentID uuid.UUID) (*domain.Payment, *domain.Order, error) {
	return h.decide(ctx, sess, paymentID, "verify", nil)
}

func (h *HTTP) RejectPayment(ctx context.Context, sess storefront.Session, paymentID uuid.UUID, reason string) (*domain.Payment, *domain.Order, error) {
	return h.decide(ctx, sess, paymentID, "reject", api.RejectPaymentRequest{Reason: reason})
}

func (h *HTTP) GetOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Order, error) {
	var out domain.Order
	if err := h.do(ctx, call{method: http.MethodGet, path: "/api/orders/" + orderID.String(), sess: sess}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTP) GetOrders(ctx context.Context, sess storefront.Session) ([]domain.Order, error) {
	var out []domain.Order
	if err := h.do(ctx, call{method: http.MethodGet, path: "/api/orders", sess: sess}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTP) GetOrderStats(ctx context.Context, sess storefront.Session) (domain.OrderStats, error) {
	var out domain.OrderStats
	err := h.do(ctx, call{method: http.MethodGet, path: "/api/orders/stats", sess: sess}, &out)
	return out, err
}

func (h *HTTP) PaymentForOrder(ctx context.Context, sess storefront.Session, orderID uuid.UUID) (*domain.Payment, error) {
	var out domain.Payment
	if err := h.do(ctx, call{method: http.MethodGet, path: "/api/payments/order/" + orderID.String(), sess: sess}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

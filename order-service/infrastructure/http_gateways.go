package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/domain"
)

// GatewayURLs holds the base URLs of the collaborator services
type GatewayURLs struct {
	Stock          string
	Payment        string
	Routing        string
	TimeEstimation string
	HubDelivery    string
	LastMile       string
}

// httpClient is the shared JSON-over-HTTP plumbing behind all gateways. The
// collaborators own their transports; from this side every call is a POST or
// DELETE with a JSON body and a 2xx-or-error contract.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) post(ctx context.Context, path string, request, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s returned %d: %s", path, resp.StatusCode, string(payload))
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

func (c *httpClient) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s returned %d: %s", path, resp.StatusCode, string(payload))
	}
	return nil
}

// HTTPStockGateway implements StockGateway against the stock service
type HTTPStockGateway struct {
	*httpClient
}

// NewHTTPStockGateway creates a new HTTPStockGateway
func NewHTTPStockGateway(baseURL string) *HTTPStockGateway {
	return &HTTPStockGateway{httpClient: newHTTPClient(baseURL)}
}

func (g *HTTPStockGateway) Reserve(ctx context.Context, req domain.ReserveStockRequest) (*domain.ReservationResult, error) {
	var result domain.ReservationResult
	if err := g.post(ctx, "/api/v1/reservations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (g *HTTPStockGateway) Restore(ctx context.Context, req domain.RestoreStockRequest) error {
	path := fmt.Sprintf("/api/v1/reservations/%s/restore", req.ReservationID)
	return g.post(ctx, path, req, nil)
}

// HTTPPaymentGateway implements PaymentGateway against the payment service
type HTTPPaymentGateway struct {
	*httpClient
}

// NewHTTPPaymentGateway creates a new HTTPPaymentGateway
func NewHTTPPaymentGateway(baseURL string) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{httpClient: newHTTPClient(baseURL)}
}

func (g *HTTPPaymentGateway) Verify(ctx context.Context, req domain.VerifyPaymentRequest) (*domain.VerifyPaymentResult, error) {
	var result domain.VerifyPaymentResult
	if err := g.post(ctx, "/api/v1/payments/verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HTTPRoutingGateway implements RoutingGateway against the hub routing service
type HTTPRoutingGateway struct {
	*httpClient
}

// NewHTTPRoutingGateway creates a new HTTPRoutingGateway
func NewHTTPRoutingGateway(baseURL string) *HTTPRoutingGateway {
	return &HTTPRoutingGateway{httpClient: newHTTPClient(baseURL)}
}

func (g *HTTPRoutingGateway) CalculateRoute(ctx context.Context, req domain.RouteRequest) (*domain.RouteResult, error) {
	var result domain.RouteResult
	if err := g.post(ctx, "/api/v1/routes/calculate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HTTPTimeEstimationGateway implements TimeEstimationGateway against the
// delivery time estimation service
type HTTPTimeEstimationGateway struct {
	*httpClient
}

// NewHTTPTimeEstimationGateway creates a new HTTPTimeEstimationGateway
func NewHTTPTimeEstimationGateway(baseURL string) *HTTPTimeEstimationGateway {
	return &HTTPTimeEstimationGateway{httpClient: newHTTPClient(baseURL)}
}

func (g *HTTPTimeEstimationGateway) Estimate(ctx context.Context, req domain.TimeEstimateRequest) (*domain.TimeEstimateResult, error) {
	var result domain.TimeEstimateResult
	if err := g.post(ctx, "/api/v1/estimates", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HTTPHubDeliveryGateway implements HubDeliveryGateway against the hub
// transport service
type HTTPHubDeliveryGateway struct {
	*httpClient
}

// NewHTTPHubDeliveryGateway creates a new HTTPHubDeliveryGateway
func NewHTTPHubDeliveryGateway(baseURL string) *HTTPHubDeliveryGateway {
	return &HTTPHubDeliveryGateway{httpClient: newHTTPClient(baseURL)}
}

func (g *HTTPHubDeliveryGateway) Create(ctx context.Context, req domain.CreateHubDeliveryRequest) (*domain.HubDeliveryResult, error) {
	var result domain.HubDeliveryResult
	if err := g.post(ctx, "/api/v1/hub-deliveries", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (g *HTTPHubDeliveryGateway) Cancel(ctx context.Context, hubDeliveryID string) error {
	return g.delete(ctx, fmt.Sprintf("/api/v1/hub-deliveries/%s", hubDeliveryID))
}

// HTTPLastMileGateway implements LastMileGateway against the last-mile
// delivery service
type HTTPLastMileGateway struct {
	*httpClient
}

// NewHTTPLastMileGateway creates a new HTTPLastMileGateway
func NewHTTPLastMileGateway(baseURL string) *HTTPLastMileGateway {
	return &HTTPLastMileGateway{httpClient: newHTTPClient(baseURL)}
}

func (g *HTTPLastMileGateway) Create(ctx context.Context, req domain.CreateLastMileRequest) (*domain.LastMileResult, error) {
	var result domain.LastMileResult
	if err := g.post(ctx, "/api/v1/last-mile-deliveries", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (g *HTTPLastMileGateway) Cancel(ctx context.Context, lastMileDeliveryID string) error {
	return g.delete(ctx, fmt.Sprintf("/api/v1/last-mile-deliveries/%s", lastMileDeliveryID))
}

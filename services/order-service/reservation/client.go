package reservation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to the event-ticket service that owns seat reservations.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ReleaseReservation asks the event-ticket service to free the seats held by
// reservationID. It reports true when the reservation is released or no
// longer exists.
func (c *HTTPClient) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/reservations/%s/release", c.baseURL, url.PathEscape(reservationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("reservation release request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info("Reservation released", zap.String("reservation_id", reservationID))
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Info("Reservation already gone", zap.String("reservation_id", reservationID))
		return true, nil
	default:
		c.logger.Warn("Reservation release rejected",
			zap.String("reservation_id", reservationID),
			zap.Int("status", resp.StatusCode),
		)
		return false, nil
	}
}

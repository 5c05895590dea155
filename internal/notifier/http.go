package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

const maxResponseBody = 64 << 10

// doRequest executes req and returns the response body for 2xx responses.
// Transport errors are retryable; HTTP errors are classified by statusError.
func doRequest(ctx context.Context, client *http.Client, channel models.Channel, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &DeliveryError{Channel: channel, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &DeliveryError{Channel: channel, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(channel, resp.StatusCode, body)
	}
	return body, nil
}

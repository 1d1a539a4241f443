// Package connreq asks devices to open a session now instead of waiting
// for their periodic inform.
package connreq

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/models"
)

// Dispatcher nudges a device via its connection request URL. Success only
// means the device accepted the request; the session it opens arrives on
// the CWMP endpoint like any other.
type Dispatcher interface {
	Dispatch(ctx context.Context, device *models.Device) error
}

// HTTPDispatcher issues the plain HTTP GET connection request.
type HTTPDispatcher struct {
	httpClient *http.Client
}

func NewHTTPDispatcher(cfg *config.ConnReq) *HTTPDispatcher {
	timeout := 10 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	return &HTTPDispatcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, device *models.Device) error {
	if device.ConnReqURL == "" {
		return fmt.Errorf("device %s has no connection request URL", device.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, device.ConnReqURL, nil)
	if err != nil {
		return fmt.Errorf("build connection request: %w", err)
	}
	if device.ConnReqUsername != "" {
		req.SetBasicAuth(device.ConnReqUsername, device.ConnReqPassword)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection request to %s: %w", device.ID, err)
	}
	defer resp.Body.Close()

	// 401 without credentials configured is still a successful nudge on
	// many CPEs; anything under 500 means the device heard us.
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("connection request to %s: status %d", device.ID, resp.StatusCode)
	}

	logger.ConnReqLog.WithField("device", device.ID).Debug("connection request delivered")
	return nil
}

// Package weather adapts an external weather lookup service to
// pricing.WeatherOracle. It is an edge collaborator, not part of the
// dispatch core: pricing only ever sees the narrow interface, and a
// timeout or open breaker here degrades to non-extreme rather than
// failing the estimate (§7 ExternalTimeout).
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/rs/zerolog"
)

// Oracle calls a configured HTTP weather endpoint through a circuit
// breaker, so a degraded vendor trips open instead of stalling every
// pricing estimate behind its timeout.
type Oracle struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

type conditionsResponse struct {
	Extreme     bool   `json:"extreme"`
	Description string `json:"description"`
}

// New builds an Oracle. baseURL is the vendor endpoint root; an empty
// baseURL yields an Oracle that always reports non-extreme, useful for
// environments with no weather vendor configured.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Oracle {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    "weather-oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("weather oracle breaker state change")
		},
	}
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// GetConditions implements pricing.WeatherOracle.
func (o *Oracle) GetConditions(ctx context.Context, lat, lng float64) (bool, string, error) {
	if o.baseURL == "" {
		return false, "", nil
	}

	result, err := o.breaker.Execute(func() (any, error) {
		return o.fetch(ctx, lat, lng)
	})
	if err != nil {
		o.logger.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("weather lookup degraded to non-extreme")
		return false, "", nil
	}
	cond := result.(conditionsResponse)
	return cond.Extreme, cond.Description, nil
}

func (o *Oracle) fetch(ctx context.Context, lat, lng float64) (conditionsResponse, error) {
	url := fmt.Sprintf("%s/conditions?lat=%f&lng=%f", o.baseURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return conditionsResponse{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return conditionsResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return conditionsResponse{}, fmt.Errorf("weather vendor returned status %d", resp.StatusCode)
	}
	var out conditionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return conditionsResponse{}, err
	}
	return out, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// WaitReady probes the Ollama endpoint until it answers or the retry budget
// runs out. Startup continues on failure; the caller only logs it, matching
// the degrade-dont-die posture of the rest of the pipeline.
func WaitReady(ctx context.Context, endpoint string, retries int, log *slog.Logger) error {
	if retries <= 0 {
		retries = 1
	}

	probe := func() ([]string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/api/tags", nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("ollama returned status %s", resp.Status)
		}

		var tags ollamaTagsResponse
		if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(tags.Models))
		for _, m := range tags.Models {
			names = append(names, m.Name)
		}
		return names, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second

	models, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(retries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("failed to connect to ollama, retrying",
				slog.String("endpoint", endpoint),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()))
		}))
	if err != nil {
		return fmt.Errorf("ollama not reachable after %d attempts: %w", retries, err)
	}

	log.Info("connected to ollama",
		slog.String("endpoint", endpoint),
		slog.Any("models", models))
	return nil
}

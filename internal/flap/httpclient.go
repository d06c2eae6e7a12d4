package flap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

// HTTPClient talks to the vendor API over HTTP, authenticating lazily and
// refreshing the bearer token on 401/403.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   servicelog.Logger

	token string
}

func NewHTTPClient(baseURL, username, password string, timeout time.Duration, logger servicelog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *HTTPClient) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"email_address": c.username, "password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flap: login failed with status %d", resp.StatusCode)
	}
	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	c.token = payload.Data.Token
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.token == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		c.token = ""
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		return c.client.Do(req)
	}
	return resp, nil
}

func (c *HTTPClient) GetPets(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.retry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodGet, "/api/pet", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var payload struct {
			Data []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(err)
		}
		out = make(map[string]string, len(payload.Data))
		for _, p := range payload.Data {
			out[p.Name] = p.ID
		}
		return nil
	})
	return out, err
}

func (c *HTTPClient) GetDevices(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.retry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodGet, "/api/device", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var payload struct {
			Data []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(err)
		}
		out = make(map[string]string, len(payload.Data))
		for _, d := range payload.Data {
			out[d.Name] = d.ID
		}
		return nil
	})
	return out, err
}

func (c *HTTPClient) GetLockState(ctx context.Context) (LockState, error) {
	var state LockState
	err := c.retry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodGet, "/api/device/lock", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var payload struct {
			Data struct {
				LockingMode int `json:"locking_mode"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(err)
		}
		state = LockState(payload.Data.LockingMode)
		return nil
	})
	return state, err
}

func (c *HTTPClient) SetLockState(ctx context.Context, state LockState) error {
	return c.retry(ctx, func() error {
		body, _ := json.Marshal(map[string]int{"locking_mode": int(state)})
		resp, err := c.do(ctx, http.MethodPut, "/api/device/lock", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("flap: set_lock_state returned status %d", resp.StatusCode)
		}
		return nil
	})
}

func (c *HTTPClient) SwitchPetLocation(ctx context.Context, petID string) error {
	return c.retry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/api/pet/"+petID+"/position/toggle", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("flap: switch_pet_location returned status %d", resp.StatusCode)
		}
		return nil
	})
}

func (c *HTTPClient) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithMaxRetries(eternalBackoffBounded(), 5)
	return backoff.Retry(func() (err error) {
		defer func() {
			if ctx.Err() != nil {
				err = backoff.Permanent(ctx.Err())
			}
		}()
		return op()
	}, backoff.WithContext(bo, ctx))
}

func eternalBackoffBounded() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	return bo
}

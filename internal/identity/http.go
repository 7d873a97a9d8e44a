package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/staffroom/staffroom/internal/types"
)

const httpClientTimeout = 30 * time.Second

// HTTPVerifier verifies tokens against a remote identity service by
// presenting the bearer token and reading back the session identity.
type HTTPVerifier struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPVerifier(baseURL string, httpClient *http.Client) *HTTPVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &HTTPVerifier{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (types.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/api/auth/session", nil)
	if err != nil {
		return types.Identity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return types.Identity{}, &AuthError{Message: "identity service unreachable", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Identity{}, &AuthError{Message: "invalid token"}
	default:
		return types.Identity{}, &AuthError{
			Message: fmt.Sprintf("identity service returned %d", resp.StatusCode),
		}
	}

	var ident types.Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return types.Identity{}, &AuthError{Message: "decode session response", Err: err}
	}

	return ident, nil
}

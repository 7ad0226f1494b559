package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// VATSIMClient queries the VATSIM live-status API. Lookups are bounded
// by the configured timeout; transport failures surface as errors so
// callers can distinguish "not online" from "oracle unreachable".
type VATSIMClient struct {
	baseURL string
	http    *http.Client
}

// NewVATSIMClient builds a client against the given API base URL.
func NewVATSIMClient(baseURL string, timeout time.Duration) *VATSIMClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VATSIMClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Status implements Oracle. A 404 means the user is not on the network
// and maps to (nil, nil). Transport failures and unexpected responses
// are returned as errors: fatal at connection accept, tolerated during
// revalidation.
func (c *VATSIMClient) Status(ctx context.Context, userID string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/members/%s/status", c.baseURL, userID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vatsim status lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("vatsim status lookup: unexpected status %d", resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("vatsim status decode: %w", err)
	}
	if st.Callsign == "" {
		return nil, nil
	}
	return &st, nil
}

// IsBanned implements Oracle.
func (c *VATSIMClient) IsBanned(ctx context.Context, userID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/members/%s/ban", c.baseURL, userID), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("vatsim ban lookup: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Banned bool `json:"banned"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Banned, nil
}

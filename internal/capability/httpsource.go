package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prorab-app/prorab/internal/shared"
)

// HTTPSource consumes the capability endpoints of a remote access-control
// service. Used when this process is not the backend of record for grants.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSource constructs an HTTPSource for the given base URL. The token
// is sent as a bearer credential on every request.
func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// ForSurface implements Source.
func (s *HTTPSource) ForSurface(ctx context.Context, actorID int64, surface Surface) ([]Capability, error) {
	endpoint := s.baseURL + "/api/capabilities?" + url.Values{"surface": {string(surface)}}.Encode()
	var caps []Capability
	if err := s.getJSON(ctx, endpoint, &caps); err != nil {
		return nil, err
	}
	return caps, nil
}

// AllSurfaces implements Source.
func (s *HTTPSource) AllSurfaces(ctx context.Context, actorID int64) (map[Surface][]Capability, error) {
	var all map[Surface][]Capability
	if err := s.getJSON(ctx, s.baseURL+"/api/capabilities/all", &all); err != nil {
		return nil, err
	}
	return all, nil
}

// AccessibleSurfaces implements Source.
func (s *HTTPSource) AccessibleSurfaces(ctx context.Context, actorID int64) (SurfaceAccess, error) {
	var access SurfaceAccess
	if err := s.getJSON(ctx, s.baseURL+"/api/surfaces", &access); err != nil {
		return SurfaceAccess{}, err
	}
	return access, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return shared.ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: capability source returned %d", shared.ErrNetwork, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: decode response: %v", shared.ErrNetwork, err)
	}
	return nil
}

var _ Source = (*HTTPSource)(nil)

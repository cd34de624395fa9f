package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultIPURL        = "https://api.ipify.org"
	DefaultGeoIPURL     = "https://ipinfo.io"
	DefaultElevationURL = "https://api.open-elevation.com/api/v1/lookup"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config holds the provider endpoints.
type Config struct {
	IPURL        string
	GeoIPURL     string
	ElevationURL string
	Timeout      time.Duration
}

// NewHTTPResolver builds a Resolver backed by the HTTP providers in cfg,
// filling empty fields with the public defaults.
func NewHTTPResolver(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.IPURL == "" {
		cfg.IPURL = DefaultIPURL
	}
	if cfg.GeoIPURL == "" {
		cfg.GeoIPURL = DefaultGeoIPURL
	}
	if cfg.ElevationURL == "" {
		cfg.ElevationURL = DefaultElevationURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := &http.Client{Timeout: cfg.Timeout}

	return NewResolver(
		&IPify{URL: cfg.IPURL, Client: client},
		&IPInfo{BaseURL: cfg.GeoIPURL, Client: client},
		&OpenElevation{URL: cfg.ElevationURL, Client: client},
		logger,
	)
}

// IPify resolves the public IP from a plain-text echo service.
type IPify struct {
	URL    string
	Client *http.Client
}

func (p *IPify) PublicIP(ctx context.Context) (string, error) {
	body, err := get(ctx, p.Client, p.URL)
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("not an IP address: %q", ip)
	}
	return ip, nil
}

// IPInfo geolocates an IP with the ipinfo.io JSON API ("loc": "lat,lon").
type IPInfo struct {
	BaseURL string
	Client  *http.Client
}

func (p *IPInfo) Locate(ctx context.Context, ip string) (float64, float64, error) {
	body, err := get(ctx, p.Client, strings.TrimRight(p.BaseURL, "/")+"/"+url.PathEscape(ip)+"/json")
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Loc   string `json:"loc"`
		Bogon bool   `json:"bogon"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, fmt.Errorf("decoding geolocation: %w", err)
	}
	if resp.Bogon {
		return 0, 0, fmt.Errorf("%s is not a routable address", ip)
	}

	latStr, lonStr, ok := strings.Cut(resp.Loc, ",")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected loc %q", resp.Loc)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude %q: %w", lonStr, err)
	}
	return lat, lon, nil
}

// OpenElevation looks up terrain height with the Open-Elevation API.
type OpenElevation struct {
	URL    string
	Client *http.Client
}

func (p *OpenElevation) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	q := url.Values{}
	q.Set("locations", strconv.FormatFloat(lat, 'f', 6, 64)+","+strconv.FormatFloat(lon, 'f', 6, 64))

	body, err := get(ctx, p.Client, p.URL+"?"+q.Encode())
	if err != nil {
		return 0, err
	}

	var resp struct {
		Results []struct {
			Elevation float64 `json:"elevation"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decoding elevation: %w", err)
	}
	if len(resp.Results) == 0 {
		return 0, errors.New("elevation lookup returned no results")
	}
	return resp.Results[0].Elevation, nil
}

func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

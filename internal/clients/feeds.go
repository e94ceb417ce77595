package clients

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PlasmaReading is the latest valid solar wind plasma values
type PlasmaReading struct {
	Density     *float64
	Speed       *float64
	Temperature *float64
	Time        time.Time
}

// MagReading is the latest valid interplanetary magnetic field values
type MagReading struct {
	Bz   *float64
	Bt   *float64
	Time time.Time
}

// KpReading is the latest planetary K-index values
type KpReading struct {
	Kp       *float64
	ARunning *float64
	Time     time.Time
}

// XrayReading is the latest GOES X-ray flux per channel
type XrayReading struct {
	Short *float64
	Long  *float64
	Time  time.Time
}

// FeedClient fetches one upstream time-series feed
type FeedClient struct {
	http    *HTTPClient
	baseURL string
}

// NewFeedClient creates a client for a single feed URL
func NewFeedClient(baseURL string, timeout time.Duration) *FeedClient {
	return &FeedClient{
		http:    NewHTTPClient(timeout),
		baseURL: baseURL,
	}
}

// BaseURL returns the base URL
func (c *FeedClient) BaseURL() string {
	return c.baseURL
}

func (c *FeedClient) rows(ctx context.Context) ([]Row, error) {
	body, err := c.http.Get(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	rows, err := DecodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.baseURL, err)
	}
	if len(rows) == 0 {
		return nil, errNoRows
	}
	return rows, nil
}

// PlasmaClient reads density, speed and temperature
type PlasmaClient struct{ *FeedClient }

// FetchPlasma fetches the plasma feed
func (c PlasmaClient) FetchPlasma(ctx context.Context) (*PlasmaReading, error) {
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	var r PlasmaReading
	var t time.Time
	r.Density, t = latestFloat(rows, "density", "proton_density")
	r.Time = later(r.Time, t)
	r.Speed, t = latestFloat(rows, "speed", "proton_speed", "velocity")
	r.Time = later(r.Time, t)
	r.Temperature, t = latestFloat(rows, "temperature", "proton_temperature")
	r.Time = later(r.Time, t)
	if r.Density == nil && r.Speed == nil && r.Temperature == nil {
		return nil, errNoRows
	}
	return &r, nil
}

// MagClient reads the GSM magnetic field components
type MagClient struct{ *FeedClient }

// FetchMag fetches the magnetic field feed
func (c MagClient) FetchMag(ctx context.Context) (*MagReading, error) {
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	var r MagReading
	var t time.Time
	r.Bz, t = latestFloat(rows, "bz_gsm", "bz")
	r.Time = later(r.Time, t)
	r.Bt, t = latestFloat(rows, "bt")
	r.Time = later(r.Time, t)
	if r.Bz == nil && r.Bt == nil {
		return nil, errNoRows
	}
	return &r, nil
}

// KpClient reads the planetary K-index
type KpClient struct{ *FeedClient }

// FetchKp fetches the K-index feed
func (c KpClient) FetchKp(ctx context.Context) (*KpReading, error) {
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	var r KpReading
	var t time.Time
	r.Kp, t = latestFloat(rows, "Kp", "kp", "kp_index", "estimated_kp")
	r.Time = later(r.Time, t)
	r.ARunning, t = latestFloat(rows, "a_running", "a_running_index")
	r.Time = later(r.Time, t)
	if r.Kp == nil {
		return nil, errNoRows
	}
	return &r, nil
}

// XrayClient reads GOES X-ray flux for both wavelength bands
type XrayClient struct{ *FeedClient }

// FetchXray fetches the X-ray feed and splits rows by energy band
func (c XrayClient) FetchXray(ctx context.Context) (*XrayReading, error) {
	rows, err := c.rows(ctx)
	if err != nil {
		return nil, err
	}
	var short, long []Row
	for _, row := range rows {
		switch energy := row.String("energy"); {
		case strings.HasPrefix(energy, "0.05"):
			short = append(short, row)
		case strings.HasPrefix(energy, "0.1"):
			long = append(long, row)
		}
	}
	var r XrayReading
	var t time.Time
	r.Short, t = latestFloat(short, "flux", "observed_flux")
	r.Time = later(r.Time, t)
	r.Long, t = latestFloat(long, "flux", "observed_flux")
	r.Time = later(r.Time, t)
	if r.Short == nil && r.Long == nil {
		return nil, errNoRows
	}
	return &r, nil
}

// Package places is a client for a HERE-style paginated place search API.
// The crawler only uses the area-bounded browse endpoint.
package places

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placecrawl/internal/geo"
	"github.com/sells-group/placecrawl/internal/resilience"
)

const defaultBaseURL = "https://places.api.here.com/places/v1"

// DefaultPageSize is the largest result count the browse endpoint returns
// for one request.
const DefaultPageSize = 100

// Client performs place search operations.
type Client interface {
	// Browse returns the places inside a region, capped at opts.Size results.
	Browse(ctx context.Context, in geo.Region, opts BrowseOptions) ([]Place, error)
}

// BrowseOptions narrows a browse request.
type BrowseOptions struct {
	// Size caps the number of results. Zero means DefaultPageSize.
	Size int
	// Categories restricts results to the given provider category IDs.
	Categories []string
}

// Place is one browse result. Raw preserves the provider's full field set;
// only the ID is interpreted by the crawler itself.
type Place struct {
	ID  string
	Raw json.RawMessage
}

// Address is the structured street address inside a place record.
type Address struct {
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber"`
	PostalCode  string `json:"postalCode"`
}

// CategoryRef identifies a provider category attached to a place.
type CategoryRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Fields is the subset of provider fields the exporters project out.
// Position is lat, lng per the provider's convention.
type Fields struct {
	Title      string        `json:"title"`
	Position   []float64     `json:"position"`
	Vicinity   string        `json:"vicinity"`
	Address    Address       `json:"address"`
	Categories []CategoryRef `json:"categories"`
}

// Fields decodes the projected fields out of the raw record.
func (p Place) Fields() (Fields, error) {
	var f Fields
	if err := json.Unmarshal(p.Raw, &f); err != nil {
		return Fields{}, eris.Wrapf(err, "places: decode fields of %s", p.ID)
	}
	return f, nil
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	appID   string
	appCode string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a place search client authenticated with an app ID and
// app code pair.
func NewClient(appID, appCode string, opts ...Option) Client {
	c := &httpClient{
		appID:   appID,
		appCode: appCode,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// browseResponse mirrors the provider's envelope.
type browseResponse struct {
	Results struct {
		Items []json.RawMessage `json:"items"`
	} `json:"results"`
}

func (c *httpClient) Browse(ctx context.Context, in geo.Region, opts BrowseOptions) ([]Place, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultPageSize
	}

	params := url.Values{}
	params.Set("app_id", c.appID)
	params.Set("app_code", c.appCode)
	params.Set("in", in.String())
	params.Set("size", strconv.Itoa(size))
	if len(opts.Categories) > 0 {
		params.Set("cat", strings.Join(opts.Categories, ","))
	}

	endpoint := c.baseURL + "/browse?" + params.Encode()

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Place, error) {
		return c.browseOnce(ctx, endpoint)
	})
}

func (c *httpClient) browseOnce(ctx context.Context, endpoint string) ([]Place, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var envelope browseResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	places := make([]Place, 0, len(envelope.Results.Items))
	for i, item := range envelope.Results.Items {
		var id struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &id); err != nil {
			return nil, eris.Wrapf(err, "places: decode item %d", i)
		}
		if id.ID == "" {
			return nil, eris.Errorf("places: item %d has no id", i)
		}
		places = append(places, Place{ID: id.ID, Raw: item})
	}
	return places, nil
}

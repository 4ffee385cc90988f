package allnet

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// Protocol constants.
const (
	// RequestTimeout bounds every request to the device.
	RequestTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20 // 1MB

	// Action codes for the actor write endpoint.
	actionOff = 0
	actionOn  = 1
)

// Endpoint paths. The device expects the query string verbatim, including
// the valueless "simple" flag.
const (
	endpointInfo       = "/xml/?mode=info"
	endpointSensorList = "/xml/?mode=sensor&type=list"
	endpointActorList  = "/xml/?mode=actor&type=list"
)

// Config holds the connection settings for a single device.
type Config struct {
	// Host is the device address, optionally with a port (e.g. "192.168.1.50").
	Host string

	// Username and Password are the basic-auth credentials.
	Username string
	Password string

	// HTTPClient overrides the default client. Its Timeout is replaced by
	// RequestTimeout. Optional.
	HTTPClient *http.Client
}

// Client talks to one Allnet device over its XML-over-HTTP protocol.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client for the configured device.
//
// Parameters:
//   - cfg: Device address and credentials
//
// Returns:
//   - *Client: Client ready for use (no connection is made)
//   - error: ErrInvalidHost if cfg.Host is empty
func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, ErrInvalidHost
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		clone := *cfg.HTTPClient
		httpClient = &clone
	}
	httpClient.Timeout = RequestTimeout

	return &Client{
		baseURL:    "http://" + strings.TrimRight(host, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the URL prefix every request is sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Identify reads the device identity. It is used as the connectivity check
// at startup.
//
// Missing elements default to the empty string.
//
// Returns:
//   - DeviceInfo: Identity snapshot
//   - error: ErrConnection on transport failure, ErrProtocol if the
//     document is empty or malformed
func (c *Client) Identify(ctx context.Context) (DeviceInfo, error) {
	body, err := c.get(ctx, endpointInfo)
	if err != nil {
		return DeviceInfo{}, err
	}
	if isEmptyDocument(body) {
		return DeviceInfo{}, fmt.Errorf("%w: empty info document", ErrProtocol)
	}

	var doc infoDocument
	if err := decodeXML(body, &doc); err != nil {
		return DeviceInfo{}, err
	}

	return DeviceInfo{
		Model:    strings.TrimSpace(doc.Hardware.Model),
		MAC:      strings.TrimSpace(doc.Hardware.MAC),
		Revision: strings.TrimSpace(doc.Hardware.Revision),
		Firmware: strings.TrimSpace(doc.Firmware),
		Name:     strings.TrimSpace(doc.Device.Name),
		Uptime:   strings.TrimSpace(doc.Device.Uptime),
	}, nil
}

// FetchSensorList returns every sensor record the device reports.
// An empty response yields an empty slice.
func (c *Client) FetchSensorList(ctx context.Context) ([]RawSensor, error) {
	body, err := c.get(ctx, endpointSensorList)
	if err != nil {
		return nil, err
	}
	if isEmptyDocument(body) {
		return []RawSensor{}, nil
	}

	var doc sensorListDocument
	if err := decodeXML(body, &doc); err != nil {
		return nil, err
	}
	if doc.Sensors == nil {
		return []RawSensor{}, nil
	}
	return doc.Sensors, nil
}

// FetchActorList returns every actor record the device reports.
// An empty response yields an empty slice.
func (c *Client) FetchActorList(ctx context.Context) ([]RawActor, error) {
	body, err := c.get(ctx, endpointActorList)
	if err != nil {
		return nil, err
	}
	if isEmptyDocument(body) {
		return []RawActor{}, nil
	}

	var doc actorListDocument
	if err := decodeXML(body, &doc); err != nil {
		return nil, err
	}
	if doc.Actors == nil {
		return []RawActor{}, nil
	}
	return doc.Actors, nil
}

// FetchSensor reads a single sensor.
//
// Returns:
//   - RawSensor: The record, with ID set to the requested id
//   - bool: false if the device returned an empty document
//   - error: ErrConnection or ErrProtocol
func (c *Client) FetchSensor(ctx context.Context, id int) (RawSensor, bool, error) {
	body, err := c.get(ctx, fmt.Sprintf("/xml/?mode=sensor&id=%d&simple", id))
	if err != nil {
		return RawSensor{}, false, err
	}
	if isEmptyDocument(body) {
		return RawSensor{}, false, nil
	}

	var raw RawSensor
	if err := decodeXML(body, &raw); err != nil {
		return RawSensor{}, false, err
	}
	raw.ID = strconv.Itoa(id)
	return raw, true, nil
}

// FetchActor reads a single actor.
//
// Returns:
//   - RawActor: The record, with ID set to the requested id
//   - bool: false if the device returned an empty document
//   - error: ErrConnection or ErrProtocol
func (c *Client) FetchActor(ctx context.Context, id int) (RawActor, bool, error) {
	body, err := c.get(ctx, fmt.Sprintf("/xml/?mode=actor&id=%d", id))
	if err != nil {
		return RawActor{}, false, err
	}
	if isEmptyDocument(body) {
		return RawActor{}, false, nil
	}

	var raw RawActor
	if err := decodeXML(body, &raw); err != nil {
		return RawActor{}, false, err
	}
	raw.ID = strconv.Itoa(id)
	return raw, true, nil
}

// WriteActor switches an actor on or off.
//
// The device accepts the write with any 2xx status and does not confirm
// the new state; the response body is ignored.
func (c *Client) WriteActor(ctx context.Context, id int, on bool) error {
	action := actionOff
	if on {
		action = actionOn
	}

	if _, err := c.get(ctx, fmt.Sprintf("/xml/?mode=actor&id=%d&action=%d", id, action)); err != nil {
		return fmt.Errorf("writing actor %d: %w", id, err)
	}
	return nil
}

// get performs one authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrConnection, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrConnection, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrConnection, err)
	}
	return body, nil
}

// decodeXML decodes a device document. Older firmware declares
// ISO-8859-1, so non-UTF-8 charsets are converted on the fly.
func decodeXML(body []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}

func isEmptyDocument(body []byte) bool {
	return len(bytes.TrimSpace(body)) == 0
}

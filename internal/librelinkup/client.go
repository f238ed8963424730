// Package librelinkup provides a client for the LibreLinkUp follower API
package librelinkup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/mrcode/librelinkup-daemon/internal/history"
	"github.com/mrcode/librelinkup-daemon/internal/models"
	"github.com/mrcode/librelinkup-daemon/internal/sensor"
	"github.com/mrcode/librelinkup-daemon/internal/timecode"
)

const (
	loginPath       = "/llu/auth/login"
	touPath         = "/auth/continue/tou"
	connectionsPath = "/llu/connections"

	// The API rejects requests without the mobile app's identity headers.
	apiUserAgent = "Mozilla/5.0"
	apiVersion   = "4.12.0"
	apiProduct   = "llu.ios"
)

// ErrUnauthorized is returned when the API rejects the session token
var ErrUnauthorized = errors.New("unauthorized")

// Session holds the authenticated state obtained from the login endpoint
type Session struct {
	UserID       string
	AccountID    string
	Token        string
	TokenExpires int64
	Country      string
	LoginStatus  int
}

// valid reports whether the session can be used for data requests. The
// API occasionally hands out the literal string "null" as a token.
func (s Session) valid() bool {
	return s.UserID != "" && s.Token != "" && s.Token != "null"
}

// GraphData is the complete result of one graph fetch
type GraphData struct {
	Reading      models.GlucoseReading
	Thresholds   models.Thresholds
	Country      string
	Status       int
	Sensor       sensor.Info  // connection-level sensor
	ActiveSensor sensor.Info  // activeSensors[0], if present
	SensorState  sensor.State // "pt" code of the active sensor
}

// Client handles communication with the LibreLinkUp API. It owns the
// glucose history snapshot, which is replaced wholesale on every
// successful graph fetch.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	session       Session
	history       history.Store
	fetchDuration time.Duration
}

// NewClient creates a LibreLinkUp client. An empty caFile uses the
// system certificate pool.
func NewClient(baseURL, email, password, caFile string) (*Client, error) {
	transport := &http.Transport{}
	if caFile != "" {
		pem, err := os.ReadFile(caFile) //nolint:gosec // operator-supplied CA path
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificate found in %s", caFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &Client{
		baseURL:  baseURL,
		email:    email,
		password: password,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// accountID derives the Account-ID header value from the user id
func accountID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// Session returns a copy of the current session state
func (c *Client) Session() Session {
	return c.session
}

// History returns the glucose history snapshot of the last graph fetch
func (c *Client) History() *history.Store {
	return &c.history
}

// FetchDuration returns how long the last graph request took. The poll
// scheduler subtracts it from the next interval.
func (c *Client) FetchDuration() time.Duration {
	return c.fetchDuration
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) addHeaders(req *http.Request, authed bool) {
	req.Header.Set("User-Agent", apiUserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("version", apiVersion)
	req.Header.Set("product", apiProduct)
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
		req.Header.Set("Account-ID", c.session.AccountID)
	}
}

// doRequest executes a request and returns the response body. The API
// answers some valid requests with 301 instead of 200; both are
// accepted. A 401 maps to ErrUnauthorized so callers can reauthenticate.
func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMovedPermanently:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("API error %d: %w", resp.StatusCode, ErrUnauthorized)
	default:
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
}

type authResponse struct {
	Status int `json:"status"`
	Data   struct {
		User struct {
			ID      string `json:"id"`
			Country string `json:"country"`
		} `json:"user"`
		AuthTicket struct {
			Token   string `json:"token"`
			Expires int64  `json:"expires"`
		} `json:"authTicket"`
	} `json:"data"`
}

// Authenticate logs in with the configured credentials and stores the
// session. Login status 4 means the terms of use must be accepted
// before data requests succeed; that is handled here as well.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.addHeaders(req, false)

	body, err := c.doRequest(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return fmt.Errorf("parsing login response: %w", err)
	}

	c.session = Session{
		UserID:       auth.Data.User.ID,
		AccountID:    accountID(auth.Data.User.ID),
		Token:        auth.Data.AuthTicket.Token,
		TokenExpires: auth.Data.AuthTicket.Expires,
		Country:      auth.Data.User.Country,
		LoginStatus:  auth.Status,
	}

	glog.V(1).Infof("authenticated user %s (country %s, status %d)",
		c.session.UserID, c.session.Country, c.session.LoginStatus)

	if c.session.LoginStatus == 4 {
		glog.Info("login requires terms-of-use acceptance")
		return c.AcceptTerms(ctx)
	}
	return nil
}

// AcceptTerms accepts the LibreLinkUp terms of use for the logged-in
// account
func (c *Client) AcceptTerms(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+touPath, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req, true)

	body, err := c.doRequest(req)
	if err != nil {
		return fmt.Errorf("accepting terms: %w", err)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return fmt.Errorf("parsing terms response: %w", err)
	}

	c.session.LoginStatus = auth.Status
	if auth.Data.User.ID != "" {
		c.session.UserID = auth.Data.User.ID
		c.session.Country = auth.Data.User.Country
	}
	return nil
}

// ensureSession authenticates if no usable session exists
func (c *Client) ensureSession(ctx context.Context) error {
	if c.session.valid() {
		return nil
	}
	glog.V(1).Info("no session available, authenticating")
	return c.Authenticate(ctx)
}

type apiMeasurement struct {
	Timestamp        string `json:"Timestamp"`
	Value            int    `json:"ValueInMgPerDl"`
	TrendArrow       int    `json:"TrendArrow"`
	TrendMessage     string `json:"TrendMessage"`
	MeasurementColor int    `json:"MeasurementColor"`
}

func (m apiMeasurement) reading() models.GlucoseReading {
	return models.GlucoseReading{
		Value:            m.Value,
		TrendArrow:       m.TrendArrow,
		MeasurementColor: m.MeasurementColor,
		TrendMessage:     m.TrendMessage,
		Timestamp:        m.Timestamp,
		Epoch:            timecode.ParseEpoch(m.Timestamp),
	}
}

type apiSensor struct {
	DeviceID   string `json:"deviceId"`
	Serial     string `json:"sn"`
	Activation int64  `json:"a"`
	State      int    `json:"pt"`
}

func (s apiSensor) info() sensor.Info {
	return sensor.Info{
		ID:             s.DeviceID,
		Serial:         s.Serial,
		ActivationTime: s.Activation,
	}
}

type connectionsResponse struct {
	Data []struct {
		GlucoseMeasurement apiMeasurement `json:"glucoseMeasurement"`
	} `json:"data"`
}

// FetchCurrentReading retrieves the latest glucose measurement from the
// connections endpoint. A 401 triggers a reauthentication as a side
// effect but the call itself still fails; the next cycle uses the fresh
// session.
func (c *Client) FetchCurrentReading(ctx context.Context) (*models.GlucoseReading, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+connectionsPath, http.NoBody)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, true)

	body, err := c.doRequest(req)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			glog.Warning("connections request unauthorized, reauthenticating")
			if aerr := c.Authenticate(ctx); aerr != nil {
				glog.Errorf("reauthentication failed: %v", aerr)
			}
		}
		return nil, fmt.Errorf("fetching connections: %w", err)
	}

	var conns connectionsResponse
	if err := json.Unmarshal(body, &conns); err != nil {
		return nil, fmt.Errorf("parsing connections: %w", err)
	}
	if len(conns.Data) == 0 {
		return nil, fmt.Errorf("no connections for account")
	}

	reading := conns.Data[0].GlucoseMeasurement.reading()
	return &reading, nil
}

type graphResponse struct {
	Data struct {
		Connection struct {
			Status             int            `json:"status"`
			Country            string         `json:"country"`
			TargetLow          int            `json:"targetLow"`
			TargetHigh         int            `json:"targetHigh"`
			GlucoseMeasurement apiMeasurement `json:"glucoseMeasurement"`
			PatientDevice      struct {
				AlarmLow            int `json:"ll"`
				AlarmHigh           int `json:"hl"`
				FixedLowAlarmValues struct {
					MgDl int `json:"mgdl"`
				} `json:"fixedLowAlarmValues"`
			} `json:"patientDevice"`
			Sensor apiSensor `json:"sensor"`
		} `json:"connection"`
		ActiveSensors []struct {
			Sensor apiSensor `json:"sensor"`
		} `json:"activeSensors"`
		GraphData []struct {
			Value     int    `json:"ValueInMgPerDl"`
			Timestamp string `json:"Timestamp"`
		} `json:"graphData"`
	} `json:"data"`
}

// FetchGraphData retrieves the glucose graph for the first connection
// and replaces the history snapshot. An unauthorized response is
// retried exactly once after reauthenticating.
func (c *Client) FetchGraphData(ctx context.Context) (*GraphData, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		data, err := c.fetchGraph(ctx)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrUnauthorized) || attempt > 0 {
			return nil, err
		}

		glog.Warning("graph request unauthorized, reauthenticating")
		if aerr := c.Authenticate(ctx); aerr != nil {
			return nil, fmt.Errorf("reauthentication: %w", aerr)
		}
	}
}

func (c *Client) fetchGraph(ctx context.Context) (*GraphData, error) {
	start := time.Now()

	url := c.baseURL + connectionsPath + "/" + c.session.UserID + "/graph"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, true)

	body, err := c.doRequest(req)
	if err != nil {
		return nil, fmt.Errorf("fetching graph: %w", err)
	}
	c.fetchDuration = time.Since(start)
	glog.V(1).Infof("graph fetch took %s", c.fetchDuration)

	var graph graphResponse
	if err := json.Unmarshal(body, &graph); err != nil {
		return nil, fmt.Errorf("parsing graph: %w", err)
	}

	conn := graph.Data.Connection
	data := &GraphData{
		Reading: conn.GlucoseMeasurement.reading(),
		Thresholds: models.Thresholds{
			TargetLow:  conn.TargetLow,
			TargetHigh: conn.TargetHigh,
			AlarmLow:   conn.PatientDevice.AlarmLow,
			AlarmHigh:  conn.PatientDevice.AlarmHigh,
			FixedLow:   conn.PatientDevice.FixedLowAlarmValues.MgDl,
		},
		Country:     conn.Country,
		Status:      conn.Status,
		Sensor:      conn.Sensor.info(),
		SensorState: sensor.Undetermined,
	}
	if len(graph.Data.ActiveSensors) > 0 {
		active := graph.Data.ActiveSensors[0].Sensor
		data.ActiveSensor = active.info()
		data.SensorState = sensor.FromCode(active.State)
	}

	samples := make([]history.Sample, 0, len(graph.Data.GraphData))
	for _, point := range graph.Data.GraphData {
		if point.Value == 0 {
			// keep the slot empty so no stale timestamp survives
			samples = append(samples, history.Sample{})
			continue
		}
		samples = append(samples, history.Sample{
			Timestamp: timecode.ParseEpoch(point.Timestamp),
			Value:     uint16(point.Value), //nolint:gosec // mg/dL values are 0-999
		})
	}
	live := history.Sample{
		Timestamp: data.Reading.Epoch,
		Value:     uint16(data.Reading.Value), //nolint:gosec // mg/dL values are 0-999
	}
	c.history.ReplaceSnapshot(samples, live)

	return data, nil
}

package librelinkup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mrcode/librelinkup-daemon/internal/sensor"
)

const loginBody = `{
	"status": 0,
	"data": {
		"user": {"id": "user-123", "country": "DE"},
		"authTicket": {"token": "tok-abc", "expires": 1800000000}
	}
}`

func graphBody(glucose int, timestamp string) string {
	return `{
		"data": {
			"connection": {
				"status": 2,
				"country": "DE",
				"targetLow": 70,
				"targetHigh": 180,
				"glucoseMeasurement": {
					"Timestamp": "` + timestamp + `",
					"ValueInMgPerDl": ` + itoa(glucose) + `,
					"TrendArrow": 3,
					"TrendMessage": "null",
					"MeasurementColor": 1
				},
				"patientDevice": {
					"ll": 60,
					"hl": 250,
					"fixedLowAlarmValues": {"mgdl": 55}
				},
				"sensor": {"deviceId": "", "sn": "SN123", "a": 1700000000}
			},
			"activeSensors": [
				{"sensor": {"deviceId": "dev-1", "sn": "SN123", "a": 1700000000, "pt": 3}}
			],
			"graphData": [
				{"ValueInMgPerDl": 100, "Timestamp": "3/14/2025 10:00:00 AM"},
				{"ValueInMgPerDl": 0, "Timestamp": ""},
				{"ValueInMgPerDl": 110, "Timestamp": "3/14/2025 10:10:00 AM"}
			]
		}
	}`
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, "user@example.com", "secret", "")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestAccountID(t *testing.T) {
	// sha256("user-123")
	want := "fcdec6df4d44dbc637c7c5b58efface52a7f8a88535423430255be0bb89bedd8"
	if got := accountID("user-123"); got != want {
		t.Errorf("accountID(\"user-123\") = %s, want %s", got, want)
	}
}

func TestClient_Authenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/llu/auth/login" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("product"); got != "llu.ios" {
			t.Errorf("product header = %s, want llu.ios", got)
		}

		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decoding login body: %v", err)
		}
		if creds["email"] != "user@example.com" || creds["password"] != "secret" {
			t.Errorf("credentials = %v", creds)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(loginBody))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	session := client.Session()
	if session.UserID != "user-123" {
		t.Errorf("UserID = %s, want user-123", session.UserID)
	}
	if session.Token != "tok-abc" {
		t.Errorf("Token = %s, want tok-abc", session.Token)
	}
	if session.AccountID != accountID("user-123") {
		t.Errorf("AccountID = %s, want sha256 of user id", session.AccountID)
	}
	if session.Country != "DE" {
		t.Errorf("Country = %s, want DE", session.Country)
	}
}

func TestClient_AuthenticateAcceptsTerms(t *testing.T) {
	touCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/llu/auth/login":
			// status 4 signals outstanding terms of use
			_, _ = w.Write([]byte(`{
				"status": 4,
				"data": {
					"user": {"id": "user-123", "country": "DE"},
					"authTicket": {"token": "tok-abc", "expires": 1800000000}
				}
			}`))
		case "/auth/continue/tou":
			touCalled = true
			if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
				t.Errorf("Authorization = %s, want Bearer tok-abc", got)
			}
			_, _ = w.Write([]byte(`{"status": 0, "data": {"user": {"id": "user-123", "country": "DE"}}}`))
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !touCalled {
		t.Error("terms-of-use endpoint was not called")
	}
	if got := client.Session().LoginStatus; got != 0 {
		t.Errorf("LoginStatus after terms = %d, want 0", got)
	}
}

func TestClient_FetchGraphData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/llu/auth/login":
			_, _ = w.Write([]byte(loginBody))
		case "/llu/connections/user-123/graph":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
				t.Errorf("Authorization = %s, want Bearer tok-abc", got)
			}
			if got := r.Header.Get("Account-ID"); got != accountID("user-123") {
				t.Errorf("Account-ID = %s, want account hash", got)
			}
			_, _ = w.Write([]byte(graphBody(123, "3/14/2025 10:15:00 AM")))
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	data, err := client.FetchGraphData(context.Background())
	if err != nil {
		t.Fatalf("FetchGraphData() error = %v", err)
	}

	if data.Reading.Value != 123 {
		t.Errorf("Reading.Value = %d, want 123", data.Reading.Value)
	}
	if data.Thresholds.TargetLow != 70 || data.Thresholds.AlarmHigh != 250 || data.Thresholds.FixedLow != 55 {
		t.Errorf("Thresholds = %+v", data.Thresholds)
	}
	if data.SensorState != sensor.Ready {
		t.Errorf("SensorState = %v, want Ready", data.SensorState)
	}
	if data.ActiveSensor.ID != "dev-1" {
		t.Errorf("ActiveSensor.ID = %s, want dev-1", data.ActiveSensor.ID)
	}
	if data.Sensor.Serial != "SN123" {
		t.Errorf("Sensor.Serial = %s, want SN123", data.Sensor.Serial)
	}

	// Two non-zero graph points plus the live reading.
	if got := client.History().CountNonZero(); got != 3 {
		t.Errorf("History().CountNonZero() = %d, want 3", got)
	}
	live := client.History().Live()
	if live.Value != 123 {
		t.Errorf("live sample value = %d, want 123", live.Value)
	}
	samples := client.History().Samples()
	if samples[1].Timestamp != 0 {
		t.Errorf("empty graph point kept a timestamp: %+v", samples[1])
	}
}

func TestClient_FetchGraphDataReauthenticatesOnce(t *testing.T) {
	loginCalls := 0
	graphCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/llu/auth/login":
			loginCalls++
			_, _ = w.Write([]byte(loginBody))
		case "/llu/connections/user-123/graph":
			graphCalls++
			// Token is rejected no matter how often the client logs in.
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message": "invalid token"}`))
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchGraphData(context.Background())

	if err == nil {
		t.Fatal("expected error when token stays invalid")
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	// One initial login (no session), one reauthentication, then give up.
	if loginCalls != 2 {
		t.Errorf("login calls = %d, want 2", loginCalls)
	}
	if graphCalls != 2 {
		t.Errorf("graph calls = %d, want 2 (one retry)", graphCalls)
	}
}

func TestClient_FetchCurrentReading(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/llu/auth/login":
			_, _ = w.Write([]byte(loginBody))
		case "/llu/connections":
			_, _ = w.Write([]byte(`{
				"data": [{
					"glucoseMeasurement": {
						"Timestamp": "3/14/2025 2:30:00 PM",
						"ValueInMgPerDl": 142,
						"TrendArrow": 4,
						"TrendMessage": "",
						"MeasurementColor": 2
					}
				}]
			}`))
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	reading, err := client.FetchCurrentReading(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrentReading() error = %v", err)
	}

	if reading.Value != 142 {
		t.Errorf("Value = %d, want 142", reading.Value)
	}
	if reading.TrendSymbol() != "↗" {
		t.Errorf("TrendSymbol() = %s, want ↗", reading.TrendSymbol())
	}
	if reading.Epoch <= 0 {
		t.Errorf("Epoch = %d, want parsed timestamp", reading.Epoch)
	}
}

func TestClient_FetchCurrentReadingUnauthorized(t *testing.T) {
	loginCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/llu/auth/login":
			loginCalls++
			_, _ = w.Write([]byte(loginBody))
		case "/llu/connections":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FetchCurrentReading(context.Background())

	// The call fails but leaves a refreshed session behind for the next
	// cycle.
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if loginCalls != 2 {
		t.Errorf("login calls = %d, want 2 (initial + refresh)", loginCalls)
	}
}

func TestNewClient_BadCAFile(t *testing.T) {
	if _, err := NewClient("https://example.com", "a", "b", "/nonexistent/ca.pem"); err == nil {
		t.Error("expected error for missing CA file")
	}
}

package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAPICollectorValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		config  APIConfig
		wantErr bool
	}{
		{"valid bearer", APIConfig{Name: "eld", BaseURL: "https://api.example.com", AuthType: "bearer", Token: "t"}, false},
		{"valid none", APIConfig{Name: "open", BaseURL: "https://api.example.com"}, false},
		{"missing name", APIConfig{BaseURL: "https://api.example.com"}, true},
		{"missing base url", APIConfig{Name: "eld"}, true},
		{"bearer without token", APIConfig{Name: "eld", BaseURL: "https://api.example.com", AuthType: "bearer"}, true},
		{"api_key without header", APIConfig{Name: "eld", BaseURL: "https://api.example.com", AuthType: "api_key", Token: "t"}, true},
		{"unknown auth", APIConfig{Name: "eld", BaseURL: "https://api.example.com", AuthType: "oauth3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAPICollector(tt.config, zap.NewNop())
			err := c.ValidateConfiguration()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAPICollectorCollect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data": {"trips": [
			{"trip_id": "T-1", "date": "2024-03-15", "miles": 250},
			{"trip_id": "T-2", "date": "2024-03-16", "miles": 310}
		]}}`)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{
		Name:     "eld",
		BaseURL:  server.URL,
		Endpoint: "/trips",
		DataPath: "data.trips",
		AuthType: "bearer",
		Token:    "secret",
	}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "T-1", result.Records[0]["route_id"])
	assert.Equal(t, 250.0, result.Records[0]["total_miles"])
	assert.Equal(t, "eld", result.Records[0]["data_source"])
}

func TestAPICollectorPartialSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"route_id": "R-1", "route_date": "2024-03-15"},
			{"driver": "no identifiers"}
		]`)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{Name: "tms", BaseURL: server.URL}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusPartialSuccess, result.Status)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 2, result.RawCount)
	assert.NotEmpty(t, result.Errors)
}

func TestAPICollectorNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{Name: "quiet", BaseURL: server.URL}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, result.Status)
}

func TestAPICollectorServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{Name: "down", BaseURL: server.URL}, zap.NewNop())

	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestAPICollectorBadDataPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected": true}`)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{Name: "api", BaseURL: server.URL, DataPath: "data.routes"}, zap.NewNop())

	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data path")
}

func TestAPICollectorPagination(t *testing.T) {
	pages := map[string]string{
		"1": `[{"route_id": "R-1", "route_date": "2024-03-15"}, {"route_id": "R-2", "route_date": "2024-03-15"}]`,
		"2": `[{"route_id": "R-3", "route_date": "2024-03-15"}]`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pages[r.URL.Query().Get("page")])
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{
		Name:      "paged",
		BaseURL:   server.URL,
		PageParam: "page",
		PageSize:  2,
	}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 3)
	assert.Equal(t, 2, result.Metadata["pages"])
}

func TestAPICollectorAuthHeaders(t *testing.T) {
	t.Run("api key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
			fmt.Fprint(w, `[]`)
		}))
		defer server.Close()

		c := NewAPICollector(APIConfig{
			Name: "tms", BaseURL: server.URL,
			AuthType: "api_key", Token: "secret", APIKeyHeader: "X-API-Key",
		}, zap.NewNop())

		_, err := c.Collect(context.Background())
		assert.NoError(t, err)
	})

	t.Run("basic", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "dispatcher", user)
			assert.Equal(t, "pw", pass)
			fmt.Fprint(w, `[]`)
		}))
		defer server.Close()

		c := NewAPICollector(APIConfig{
			Name: "dispatch", BaseURL: server.URL,
			AuthType: "basic", Username: "dispatcher", Password: "pw",
		}, zap.NewNop())

		_, err := c.Collect(context.Background())
		assert.NoError(t, err)
	})
}

func TestPresetConfigs(t *testing.T) {
	eld := ELDConfig("samsara", "https://api.samsara.example", "token")
	assert.NoError(t, NewAPICollector(eld, zap.NewNop()).ValidateConfiguration())
	assert.Equal(t, "bearer", eld.AuthType)

	tms := TMSConfig("mcleod", "https://tms.example", "key")
	assert.NoError(t, NewAPICollector(tms, zap.NewNop()).ValidateConfiguration())
	assert.Equal(t, "X-API-Key", tms.APIKeyHeader)

	dispatch := DispatchConfig("dispatch", "https://dispatch.example", "user", "pw")
	assert.NoError(t, NewAPICollector(dispatch, zap.NewNop()).ValidateConfiguration())
}

func TestAPICollectorMultipleEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trips":
			fmt.Fprint(w, `[{"route_id": "T-1", "route_date": "2024-03-15"}]`)
		case "/loads":
			fmt.Fprint(w, `[{"route_id": "L-1", "route_date": "2024-03-16"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{
		Name:      "tms",
		BaseURL:   server.URL,
		Endpoints: []string{"/trips", "/loads"},
	}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Len(t, result.Records, 2)
	assert.Equal(t, 2, result.Metadata["endpoints"])
}

func TestAPICollectorContainsEndpointFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[{"route_id": "T-1", "route_date": "2024-03-15"}]`)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{
		Name:      "tms",
		BaseURL:   server.URL,
		Endpoints: []string{"/trips", "/broken"},
	}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPartialSuccess, result.Status)
	assert.Len(t, result.Records, 1)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "/broken")
}

func TestAPICollectorAllEndpointsFailing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{
		Name:      "tms",
		BaseURL:   server.URL,
		Endpoints: []string{"/a", "/b"},
	}, zap.NewNop())

	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestAPICollectorDaysBackWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("start_date"))
		assert.NotEmpty(t, r.URL.Query().Get("end_date"))
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	c := NewAPICollector(APIConfig{
		Name:     "eld",
		BaseURL:  server.URL,
		Endpoint: "/trips",
		DaysBack: 7,
	}, zap.NewNop())

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, result.Status)
}

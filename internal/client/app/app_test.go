package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhcptap/pkg/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ip", Config{Server: "s", IP: "10.0.0.1"}, true},
		{"mac", Config{Server: "s", MAC: "52:54:00:12:34:56"}, true},
		{"neither", Config{Server: "s"}, false},
		{"both", Config{Server: "s", IP: "10.0.0.1", MAC: "52:54:00:12:34:56"}, false},
		{"bad ip", Config{Server: "s", IP: "10.0.0"}, false},
		{"bad mac", Config{Server: "s", MAC: "xx"}, false},
		{"no server", Config{IP: "10.0.0.1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("mac", "52:54:00:12:34:56")

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Server)
	assert.Equal(t, 200, cfg.Limit)
}

func TestQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "52:54:00:12:34:56", r.URL.Query().Get("mac"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("ip"))
		_ = json.NewEncoder(w).Encode([]model.DHCPEvent{{MsgType: "request", Xid: 9}})
	}))
	defer ts.Close()

	// 不带 scheme 也能用
	server := strings.TrimPrefix(ts.URL, "http://")
	rows, err := Query(context.Background(), Config{Server: server, MAC: "52:54:00:12:34:56", Limit: 5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(9), rows[0].Xid)
}

func TestQueryServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad ip", http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := Query(context.Background(), Config{Server: ts.URL, IP: "10.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad ip")
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []model.DHCPEvent{{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Interface: "eth0",
		MsgType:   "discover",
		Xid:       0xdeadbeef,
		SrcMAC:    "52:54:00:12:34:56",
		SrcIP:     "fe80::1",
		SrcPort:   546,
		Hostname:  "node01",
	}})
	out := buf.String()
	assert.Contains(t, out, "0xdeadbeef")
	assert.Contains(t, out, "[fe80::1]:546")
	assert.Contains(t, out, "node01")
	assert.Contains(t, out, "discover")
}

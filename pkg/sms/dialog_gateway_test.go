package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPhoneForDialog(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"0771234567", "771234567", false},
		{"94771234567", "771234567", false},
		{"+94 77 123 4567", "771234567", false},
		{"077123", "", true},
		{"0111234567", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := FormatPhoneForDialog(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialogGateway_SendLogsInOnce(t *testing.T) {
	var logins, sends atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			logins.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "success", "token": "tok", "expiration": 3600,
			})
		case "/sms":
			sends.Add(1)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "771234567", body.MSISDN[0].Mobile)
			assert.Equal(t, "SmartTransit", body.SourceAddress)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	gw := NewDialogGateway(DialogConfig{APIURL: server.URL, Username: "u", Password: "p", Mask: "SmartTransit"})

	require.NoError(t, gw.Send(context.Background(), "0771234567", "hello"))
	require.NoError(t, gw.Send(context.Background(), "0771234567", "again"))

	assert.Equal(t, int32(1), logins.Load())
	assert.Equal(t, int32(2), sends.Load())
}

func TestDialogGateway_LoginFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "failed", "comment": "bad credentials", "errCode": "104"})
	}))
	defer server.Close()

	gw := NewDialogGateway(DialogConfig{APIURL: server.URL, Username: "u", Password: "wrong"})
	err := gw.Send(context.Background(), "0771234567", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestDialogURLGateway_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("list") != "771234567" {
			_, _ = w.Write([]byte("2001"))
			return
		}
		assert.Equal(t, "key", q.Get("esmsqk"))
		_, _ = w.Write([]byte("1"))
	}))
	defer server.Close()

	gw := NewDialogURLGateway(server.URL, "key", "SmartTransit")
	require.NoError(t, gw.Send(context.Background(), "0771234567", "hello"))

	err := gw.Send(context.Background(), "0781234567", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2001")
}

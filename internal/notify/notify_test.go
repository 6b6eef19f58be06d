package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertText(t *testing.T) {
	a := Alert{Title: "Missed entry", Body: "Ana is late", Fields: []Field{{Name: "Minutes", Value: "12"}}}
	assert.Equal(t, "Missed entry\nAna is late\nMinutes: 12", a.Text())
}

func TestColor(t *testing.T) {
	assert.Equal(t, "#d00000", Color(SeverityError))
	assert.Equal(t, Color(SeverityInfo), Color("unknown"))
}

func TestMulti(t *testing.T) {
	ok := &Mock{}
	failing := &Mock{Err: errors.New("down")}
	err := Multi{failing, ok}.Broadcast(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, ok.Alerts(), 1, "later broadcasters still run")

	assert.NoError(t, Multi{}.Broadcast(context.Background(), Alert{}))
}

func TestLogSender(t *testing.T) {
	var l LogSender
	assert.NoError(t, l.SendText(context.Background(), "+55", "hi"))
	assert.NoError(t, l.Broadcast(context.Background(), Alert{Title: "x"}))
}

func TestSMSGateway(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g, err := NewSMSGateway(SMSGatewayOpts{BaseURL: srv.URL, Token: "secret", Sender: "Visitline"})
	require.NoError(t, err)
	require.NoError(t, g.SendText(context.Background(), "+5511999990000", "Punch your entry"))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, smsRequest{To: "+5511999990000", From: "Visitline", Text: "Punch your entry"}, got)
}

func TestSMSGateway_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid number"}`))
	}))
	defer srv.Close()

	g, err := NewSMSGateway(SMSGatewayOpts{BaseURL: srv.URL})
	require.NoError(t, err)
	err = g.SendText(context.Background(), "123", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")
	assert.Error(t, g.SendText(context.Background(), "", "x"))

	_, err = NewSMSGateway(SMSGatewayOpts{})
	assert.Error(t, err)
}

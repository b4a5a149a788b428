package upstream_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"git.fiblab.net/sim/routematch/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSDK struct {
	logins   atomic.Int32
	valid    atomic.Value // 当前有效token
	lastVIN  atomic.Value
	lastSpan atomic.Value
	body     string
}

func newFakeSDK(t *testing.T, body string) (*fakeSDK, *httptest.Server) {
	f := &fakeSDK{body: body}
	f.valid.Store("")
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.FormValue("username") != "user" || r.FormValue("password") != "pass" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		n := f.logins.Add(1)
		token := fmt.Sprintf("tok%d", n)
		f.valid.Store("Bearer " + token)
		fmt.Fprintf(w, `{"data":{"token_type":"Bearer","access_token":%q}}`, token)
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != f.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		f.lastVIN.Store(q.Get("vin"))
		f.lastSpan.Store(q.Get("timeStar") + "-" + q.Get("timeEnd"))
		fmt.Fprint(w, f.body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newClient(srv *httptest.Server) *upstream.SDKClient {
	return upstream.NewSDKClient(upstream.SDKConfig{
		LoginURL:   srv.URL + "/login",
		HistoryURL: srv.URL + "/history",
		Username:   "user",
		Password:   "pass",
	})
}

const historyBody = `{"data":{"gbDataList":[
	{"MDT_PO_LON":"119.40","MDT_PO_LAT":"32.39"},
	{"MDT_PO_LON":119.41,"MDT_PO_LAT":32.40},
	{"MDT_PO_LON":"","MDT_PO_LAT":"32.40"},
	{"MDT_PO_LON":"abc","MDT_PO_LAT":"32.40"},
	{"MDT_PO_LAT":"32.40"}
]}}`

func TestFetchHistory(t *testing.T) {
	f, srv := newFakeSDK(t, historyBody)
	c := newClient(srv)
	start := time.UnixMilli(1704852000000)
	end := time.UnixMilli(1704895200000)
	points, err := c.FetchHistory(context.Background(), "VIN001", start, end)
	require.NoError(t, err)
	assert.Equal(t, []geo.LngLat{{Lng: 119.40, Lat: 32.39}, {Lng: 119.41, Lat: 32.40}}, points)
	assert.Equal(t, "VIN001", f.lastVIN.Load())
	assert.Equal(t, "1704852000000-1704895200000", f.lastSpan.Load())

	// token缓存
	_, err = c.FetchHistory(context.Background(), "VIN002", start, end)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestFetchHistoryRefreshesTokenOn401(t *testing.T) {
	f, srv := newFakeSDK(t, historyBody)
	c := newClient(srv)
	_, err := c.FetchHistory(context.Background(), "VIN001", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	// 服务端令token失效
	f.valid.Store("Bearer expired")
	points, err := c.FetchHistory(context.Background(), "VIN001", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Equal(t, int32(2), f.logins.Load())
}

func TestFetchHistoryMalformed(t *testing.T) {
	_, srv := newFakeSDK(t, `{"code":500}`)
	_, err := newClient(srv).FetchHistory(context.Background(), "VIN001", time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestFetchHistoryLoginFailure(t *testing.T) {
	_, srv := newFakeSDK(t, historyBody)
	c := upstream.NewSDKClient(upstream.SDKConfig{
		LoginURL:   srv.URL + "/login",
		HistoryURL: srv.URL + "/history",
		Username:   "user",
		Password:   "wrong",
	})
	_, err := c.FetchHistory(context.Background(), "VIN001", time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

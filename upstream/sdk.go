package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
)

const (
	// 历史数据接口默认超时
	DEFAULT_SDK_TIMEOUT = 30 * time.Second
)

type SDKConfig struct {
	LoginURL   string
	HistoryURL string
	Username   string
	Password   string
	Timeout    time.Duration
}

// SDKClient 车联网平台国标历史数据接口
// token在首次请求时获取并缓存，遇到401时重新登录一次
type SDKClient struct {
	cfg  SDKConfig
	http *http.Client

	mu    sync.Mutex
	token string
}

func NewSDKClient(cfg SDKConfig) *SDKClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_SDK_TIMEOUT
	}
	return &SDKClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type loginResponse struct {
	Data struct {
		TokenType   string `json:"token_type"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

type historyResponse struct {
	Data *struct {
		GbDataList []map[string]interface{} `json:"gbDataList"`
	} `json:"data"`
}

func (c *SDKClient) authorization(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !refresh {
		return c.token, nil
	}
	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: login: %v", errs.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: login: %v", errs.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login returned %d", errs.ErrUpstream, resp.StatusCode)
	}
	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: login: decode: %v", errs.ErrUpstream, err)
	}
	if parsed.Data.AccessToken == "" {
		return "", fmt.Errorf("%w: login: empty access token", errs.ErrUpstream)
	}
	c.token = parsed.Data.TokenType + " " + parsed.Data.AccessToken
	log.Debug("sdk token refreshed")
	return c.token, nil
}

// FetchHistory 获取车辆[start, end]内的位置点，经纬度无法解析为数值的行丢弃
func (c *SDKClient) FetchHistory(ctx context.Context, vin string, start, end time.Time) ([]geo.LngLat, error) {
	query := url.Values{
		"vin":      {vin},
		"timeStar": {strconv.FormatInt(start.UnixMilli(), 10)},
		"timeEnd":  {strconv.FormatInt(end.UnixMilli(), 10)},
	}
	body, status, err := c.get(ctx, c.cfg.HistoryURL+"?"+query.Encode(), false)
	if err == nil && status == http.StatusUnauthorized {
		body, status, err = c.get(ctx, c.cfg.HistoryURL+"?"+query.Encode(), true)
	}
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: history of %s returned %d", errs.ErrUpstream, vin, status)
	}
	var parsed historyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: history of %s: decode: %v", errs.ErrUpstream, vin, err)
	}
	if parsed.Data == nil || parsed.Data.GbDataList == nil {
		return nil, fmt.Errorf("%w: history of %s: missing data.gbDataList", errs.ErrUpstream, vin)
	}
	points := make([]geo.LngLat, 0, len(parsed.Data.GbDataList))
	for _, row := range parsed.Data.GbDataList {
		lng, ok1 := numeric(row["MDT_PO_LON"])
		lat, ok2 := numeric(row["MDT_PO_LAT"])
		if ok1 && ok2 {
			points = append(points, geo.LngLat{Lng: lng, Lat: lat})
		}
	}
	if dropped := len(parsed.Data.GbDataList) - len(points); dropped > 0 {
		log.WithField("vin", vin).Debugf("dropped %d non-numeric rows", dropped)
	}
	return points, nil
}

func (c *SDKClient) get(ctx context.Context, u string, refresh bool) ([]byte, int, error) {
	token, err := c.authorization(ctx, refresh)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Authorization", token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", errs.ErrUpstream, err)
	}
	return body, resp.StatusCode, nil
}

// 接口中的数值可能是数字或字符串
func numeric(x interface{}) (float64, bool) {
	var v float64
	switch x := x.(type) {
	case float64:
		v = x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	return v, !math.IsNaN(v) && !math.IsInf(v, 0)
}

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"git.fiblab.net/sim/routematch/errs"
	"git.fiblab.net/sim/routematch/geo"
	"github.com/samber/lo"
	"github.com/twpayne/go-polyline"
)

const (
	// 单次请求的途经点上限，相邻分段共用首尾点
	OSRM_MAX_WAYPOINTS   = 100
	DEFAULT_OSRM_TIMEOUT = 10 * time.Second
)

// OSRMClient 通过OSRM route接口获取途经站点之间的道路几何
type OSRMClient struct {
	baseURL string
	http    *http.Client
}

func NewOSRMClient(baseURL string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = DEFAULT_OSRM_TIMEOUT
	}
	return &OSRMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// Route 返回依次经过waypoints的道路折线
func (c *OSRMClient) Route(ctx context.Context, waypoints []geo.LngLat) ([]geo.LngLat, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 waypoints, got %d", errs.ErrInsufficientData, len(waypoints))
	}
	var out []geo.LngLat
	for i, chunk := range chunkWaypoints(waypoints, OSRM_MAX_WAYPOINTS) {
		line, err := c.route(ctx, chunk)
		if err != nil {
			return nil, err
		}
		// 分段首点即上一段的末个途经点，解码误差使两者不完全相等
		if i > 0 && len(line) > 0 {
			line = line[1:]
		}
		out = append(out, line...)
	}
	return out, nil
}

func (c *OSRMClient) route(ctx context.Context, waypoints []geo.LngLat) ([]geo.LngLat, error) {
	coords := lo.Map(waypoints, func(p geo.LngLat, _ int) string {
		return fmt.Sprintf("%.6f,%.6f", p.Lng, p.Lat)
	})
	u := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=polyline", c.baseURL, strings.Join(coords, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: osrm: %v", errs.ErrUpstream, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: osrm: %v", errs.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: osrm returned %d", errs.ErrUpstream, resp.StatusCode)
	}
	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: osrm: decode: %v", errs.ErrUpstream, err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("%w: osrm: no route (code %q)", errs.ErrUpstream, parsed.Code)
	}
	decoded, _, err := polyline.DecodeCoords([]byte(parsed.Routes[0].Geometry))
	if err != nil {
		return nil, fmt.Errorf("%w: osrm: decode polyline: %v", errs.ErrUpstream, err)
	}
	// polyline坐标为[lat, lng]
	return lo.Map(decoded, func(c []float64, _ int) geo.LngLat {
		return geo.LngLat{Lng: c[1], Lat: c[0]}
	}), nil
}

// 按size切分，相邻分段共享边界点
func chunkWaypoints(points []geo.LngLat, size int) [][]geo.LngLat {
	if size < 2 {
		size = 2
	}
	var chunks [][]geo.LngLat
	for start := 0; start < len(points)-1; start += size - 1 {
		end := start + size
		if end > len(points) {
			end = len(points)
		}
		chunks = append(chunks, points[start:end])
	}
	return chunks
}

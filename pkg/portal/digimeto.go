package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/meterbridge/meterbridge/pkg/auth"
	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/resolve"
	"github.com/meterbridge/meterbridge/pkg/types"
)

const (
	DefaultDigimetoURL = "https://vdis5.digimeto.de"
	// DigimetoTokenCookie holds the anti forgery token, echoed back as the
	// X-XSRF-TOKEN header.
	DigimetoTokenCookie = "XSRF-TOKEN"

	digimetoTimeLayout = "2006-01-02T15:04:05-07:00"
)

// Digimeto is the electricity smart meter portal.
type Digimeto struct {
	c *sessionClient
}

// NewDigimeto returns a Digimeto client for baseURL.
func NewDigimeto(client *http.Client, baseURL string) (*Digimeto, error) {
	c, err := newSessionClient("digimeto", client, baseURL, []string{"/login"})
	if err != nil {
		return nil, err
	}
	return &Digimeto{c: c}, nil
}

// DigimetoFormLogin returns the form login for the Digimeto portal.
func DigimetoFormLogin(client *http.Client) *auth.FormLogin {
	return &auth.FormLogin{
		Client:        client,
		LoginPath:     "/login",
		UsernameField: "_username",
		PasswordField: "_password",
		ExtraFields:   map[string]string{"_remember_me": "on"},
		WarmupPath:    "/analytics/getanalysepage",
		LoginMarker:   "/login",
		TokenCookie:   DigimetoTokenCookie,
	}
}

func (d *Digimeto) newRequest(ctx context.Context, sess types.Session, path string) (*http.Request, error) {
	q := url.Values{}
	// ct is the cookie value as stored, the header carries it unescaped
	if raw := sess.State.RawTokenCookie(); raw != "" {
		q.Set("ct", raw)
	}
	req, err := newRequest(ctx, "GET", d.c.url(path, q), nil)
	if err != nil {
		return nil, err
	}
	if token, ok := sess.State.Token(); ok {
		req.Header.Set("X-XSRF-TOKEN", token)
	}
	return req, nil
}

// ResolveIdentifiers implements resolve.Resolver by walking the metering
// point sidebar.
func (d *Digimeto) ResolveIdentifiers(ctx context.Context, sess types.Session) (types.ResourceIdentifiers, error) {
	req, err := d.newRequest(ctx, sess, "/sidebarMultiMp/rlm")
	if err != nil {
		return types.ResourceIdentifiers{}, err
	}
	var raw json.RawMessage
	if err := d.c.do(sess, req, &raw); err != nil {
		return types.ResourceIdentifiers{}, err
	}
	nodes, err := decodeDirectory(raw)
	if err != nil {
		return types.ResourceIdentifiers{}, fmt.Errorf("%w: %w", types.ErrResolution, err)
	}
	ids, err := resolve.IdentifiersFromTree(nodes)
	if err != nil {
		return types.ResourceIdentifiers{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "found metering point", slog.String("mp", ids.Primary), slog.String("line", ids.Secondary))
	return ids, nil
}

// the sidebar is a list of roots but a single root object is accepted too
func decodeDirectory(raw json.RawMessage) ([]types.DirectoryNode, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		nodes := make([]types.DirectoryNode, 0, len(items))
		for _, item := range items {
			var n types.DirectoryNode
			if err := json.Unmarshal(item, &n); err != nil {
				n = types.DirectoryNode{Kind: types.NodeKindOther}
			}
			nodes = append(nodes, n)
		}
		return nodes, nil
	}
	var node types.DirectoryNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("%w: directory is neither a list nor an object", types.ErrMalformedResponse)
	}
	return []types.DirectoryNode{node}, nil
}

type digimetoSeries struct {
	Values       []*float64 `json:"values"`
	Timestamps   []string   `json:"timestamps"`
	Unit         string     `json:"unit"`
	MetPointName string     `json:"metpointname"`
	Details      *struct {
		MaloID string `json:"maloId"`
		MQ     string `json:"mq"`
	} `json:"details"`
}

// Fetch implements fetch.Source for one granularity.
func (d *Digimeto) Fetch(ctx context.Context, sess types.Session, ids types.ResourceIdentifiers, key string, start, end time.Time) (types.RawPeriodSeries, error) {
	g := types.Granularity(key)
	switch g {
	case types.GranularityQuarterHour, types.GranularityDay, types.GranularityMonth, types.GranularityYear:
	default:
		return types.RawPeriodSeries{}, fmt.Errorf("unknown granularity %q", key)
	}

	path := fmt.Sprintf("/data/mpline/genericto/%s/%s/%s/%s/%s",
		url.PathEscape(ids.Primary),
		url.PathEscape(ids.Secondary),
		url.QueryEscape(start.Format(digimetoTimeLayout)),
		url.QueryEscape(end.Format(digimetoTimeLayout)),
		g,
	)
	req, err := d.newRequest(ctx, sess, path)
	if err != nil {
		return types.RawPeriodSeries{}, err
	}
	var res digimetoSeries
	if err := d.c.do(sess, req, &res); err != nil {
		return types.RawPeriodSeries{}, err
	}

	n := min(len(res.Values), len(res.Timestamps))
	if len(res.Values) != len(res.Timestamps) {
		log.Ctx(ctx).WarnContext(ctx, "series length mismatch",
			slog.String("granularity", key),
			slog.Int("values", len(res.Values)),
			slog.Int("timestamps", len(res.Timestamps)),
		)
	}
	series := types.RawPeriodSeries{
		Granularity: g,
		Samples:     make([]types.Sample, n),
	}
	// pair from the end so the most recent samples line up
	vo, to := len(res.Values)-n, len(res.Timestamps)-n
	for i := 0; i < n; i++ {
		series.Samples[i] = types.Sample{
			Timestamp: res.Timestamps[to+i],
			Value:     res.Values[vo+i],
		}
	}
	if res.Details != nil {
		unit := res.Unit
		if unit == "" {
			unit = "kWh"
		}
		series.Details = &types.SeriesDetails{
			MaloID:       res.Details.MaloID,
			MetPointName: res.MetPointName,
			Unit:         unit,
			OBIS:         res.Details.MQ,
		}
	}
	return series, nil
}

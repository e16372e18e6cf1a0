package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/meterbridge/meterbridge/pkg/log"
	"github.com/meterbridge/meterbridge/pkg/numeric"
	"github.com/meterbridge/meterbridge/pkg/types"
)

const (
	DefaultMinolURL = "https://webservices.minol.com"
	// MinolTokenCookie is the SAP logon ticket; the session is unusable
	// without it.
	MinolTokenCookie = "MYSAPSSO2"

	minolAppPath     = "/minol.com~kundenportal~em~web"
	minolDefaultNENR = "000003"
)

type minolKind struct {
	consType string
	dlgKey   string
}

var minolKinds = map[types.ConsumptionKind]minolKind{
	types.ConsumptionHeating:   {consType: "HZKWH", dlgKey: "100KWH"},
	types.ConsumptionHotWater:  {consType: "WARMWASSER", dlgKey: "100WW"},
	types.ConsumptionColdWater: {consType: "KALTWASSER", dlgKey: "100KW"},
}

// Minol is the heat and water sub-metering tenant portal.
type Minol struct {
	c *sessionClient
}

// NewMinol returns a Minol client for baseURL.
func NewMinol(client *http.Client, baseURL string) (*Minol, error) {
	c, err := newSessionClient("minol", client, baseURL, []string{"b2clogin", "/saml2/", "/logon"})
	if err != nil {
		return nil, err
	}
	// the SAP portal serves its logon page in place of REST answers
	c.htmlIsLogin = true
	return &Minol{c: c}, nil
}

type minolTenant struct {
	UserNumber     flexString  `json:"userNumber"`
	LGNR           flexString  `json:"lgnr"`
	NENR           *flexString `json:"nenr"`
	Name           string      `json:"name"`
	Email          string      `json:"email"`
	AddrCity       string      `json:"addrCity"`
	AddrStreet     string      `json:"addrStreet"`
	AddrHouseNum   flexString  `json:"addrHouseNum"`
	AddrPostalCode flexString  `json:"addrPostalCode"`
	Floor          string      `json:"geschossText"`
	Position       string      `json:"lageText"`
	MoveIn         flexString  `json:"einzugMieter"`
}

func (t minolTenant) customerInfo() *types.CustomerInfo {
	nenr := minolDefaultNENR
	if t.NENR != nil && strings.TrimSpace(string(*t.NENR)) != "" {
		nenr = strings.TrimSpace(string(*t.NENR))
	}
	addr := strings.Join(strings.Fields(strings.Join([]string{
		t.AddrStreet,
		string(t.AddrHouseNum),
		string(t.AddrPostalCode),
		t.AddrCity,
	}, " ")), " ")
	return &types.CustomerInfo{
		Name:           t.Name,
		Email:          t.Email,
		CustomerNumber: string(t.UserNumber),
		TenantNumber:   nenr,
		PropertyNumber: strings.TrimSpace(string(t.LGNR)),
		Floor:          t.Floor,
		Position:       t.Position,
		Address:        addr,
		MoveInDate:     string(t.MoveIn),
	}
}

func (m *Minol) referer() string {
	return m.c.url(minolAppPath+"/resources/monitoring/index.html", nil) + "?isMieter=true"
}

// ResolveIdentifiers implements resolve.Resolver using the first tenant of
// the account.
func (m *Minol) ResolveIdentifiers(ctx context.Context, sess types.Session) (types.ResourceIdentifiers, error) {
	req, err := newRequest(ctx, "GET", m.c.url(minolAppPath+"/rest/EMData/getUserTenants", nil), nil)
	if err != nil {
		return types.ResourceIdentifiers{}, err
	}
	req.Header.Set("Referer", m.referer())

	var tenants []minolTenant
	if err := m.c.do(sess, req, &tenants); err != nil {
		return types.ResourceIdentifiers{}, err
	}
	if len(tenants) == 0 {
		return types.ResourceIdentifiers{}, fmt.Errorf("%w: account has no tenants", types.ErrResolution)
	}
	t := tenants[0]
	if t.UserNumber == "" {
		return types.ResourceIdentifiers{}, fmt.Errorf("%w: tenant without user number", types.ErrResolution)
	}
	if len(tenants) > 1 {
		log.Ctx(ctx).InfoContext(ctx, "account has multiple tenants, using the first", slog.Int("tenants", len(tenants)))
	}
	return types.ResourceIdentifiers{
		Primary:   string(t.UserNumber),
		Secondary: strings.TrimSpace(string(t.LGNR)),
		Customer:  t.customerInfo(),
	}, nil
}

type minolReadRequest struct {
	UserNum          string `json:"userNum"`
	Layer            string `json:"layer"`
	Scale            string `json:"scale"`
	ChartRefUnit     string `json:"chartRefUnit"`
	RefObject        string `json:"refObject"`
	ConsType         string `json:"consType"`
	DashBoardKey     string `json:"dashBoardKey"`
	TimelineStart    string `json:"timelineStart"`
	TimelineStartTxt string `json:"timelineStartTxt"`
	TimelineEnd      string `json:"timelineEnd"`
	TimelineEndTxt   string `json:"timelineEndTxt"`
	ValuesInKWH      bool   `json:"valuesInKWH"`
	DlgKey           string `json:"dlgKey"`
}

type minolRoom struct {
	Room           *string    `json:"raum"`
	RoomKey        flexString `json:"raumKey"`
	DeviceNumber   flexString `json:"gerNr"`
	Consumption    flexFloat  `json:"consumption"`
	ConsumptionBew flexFloat  `json:"consumptionBew"`
	Score          flexString `json:"bewertung"`
	Reading        flexFloat  `json:"ablesung"`
	InitialReading flexFloat  `json:"anfangsstand"`
	Unit           string     `json:"unit"`
}

type minolChartEntry struct {
	Category    flexString `json:"category"`
	CategoryInt flexFloat  `json:"categoryInt"`
	Value       flexFloat  `json:"value"`
	Label       string     `json:"label"`
	KeyFigure   string     `json:"keyFigure"`
	NumValues   flexFloat  `json:"anzValues"`
}

type minolReadResponse struct {
	Table []minolRoom       `json:"table"`
	Chart []minolChartEntry `json:"chart"`
}

// Fetch implements fetch.Source for one consumption kind. start and end are
// truncated to months.
func (m *Minol) Fetch(ctx context.Context, sess types.Session, ids types.ResourceIdentifiers, key string, start, end time.Time) (types.ConsumptionReport, error) {
	kind := types.ConsumptionKind(key)
	mk, ok := minolKinds[kind]
	if !ok {
		return types.ConsumptionReport{}, fmt.Errorf("unknown consumption kind %q", key)
	}

	payload := minolReadRequest{
		UserNum:          ids.Primary,
		Layer:            "NE",
		Scale:            "CALMONTH",
		ChartRefUnit:     "ABS",
		RefObject:        "DIN_AVG",
		ConsType:         mk.consType,
		DashBoardKey:     "PE",
		TimelineStart:    start.Format("200601"),
		TimelineStartTxt: start.Format("01.2006"),
		TimelineEnd:      end.Format("200601"),
		TimelineEndTxt:   end.Format("01.2006"),
		ValuesInKWH:      true,
		DlgKey:           mk.dlgKey,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return types.ConsumptionReport{}, err
	}
	req, err := newRequest(ctx, "POST", m.c.url(minolAppPath+"/rest/EMData/readData", nil), bytes.NewReader(b))
	if err != nil {
		return types.ConsumptionReport{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Referer", m.referer())

	var res minolReadResponse
	if err := m.c.do(sess, req, &res); err != nil {
		return types.ConsumptionReport{}, err
	}
	return res.report(kind), nil
}

func (r minolReadResponse) report(kind types.ConsumptionKind) types.ConsumptionReport {
	report := types.ConsumptionReport{
		Kind:     kind,
		Rooms:    make([]types.RoomConsumption, 0, len(r.Table)),
		Timeline: make([]types.TimelineEntry, 0, len(r.Chart)),
	}
	var total numeric.Accumulator
	for _, row := range r.Table {
		name := "Unknown"
		if row.Room != nil {
			name = *row.Room
		}
		unit := row.Unit
		if unit == "" {
			unit = "KWH"
		}
		report.Rooms = append(report.Rooms, types.RoomConsumption{
			RoomName:             name,
			RoomKey:              string(row.RoomKey),
			DeviceNumber:         string(row.DeviceNumber),
			Consumption:          float64(row.Consumption),
			ConsumptionEvaluated: float64(row.ConsumptionBew),
			EvaluationScore:      string(row.Score),
			Reading:              float64(row.Reading),
			InitialReading:       float64(row.InitialReading),
			Unit:                 unit,
		})
		total.Add(float64(row.Consumption))
	}
	report.TotalConsumption = total.Float64()

	for _, e := range r.Chart {
		report.Timeline = append(report.Timeline, types.TimelineEntry{
			Period:    string(e.Category),
			PeriodInt: int(e.CategoryInt),
			Value:     float64(e.Value),
			Label:     e.Label,
			KeyFigure: e.KeyFigure,
			NumValues: int(e.NumValues),
		})
	}
	return report
}

package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/meterbridge/meterbridge/pkg/aggregate"
	"github.com/meterbridge/meterbridge/pkg/auth"
	"github.com/meterbridge/meterbridge/pkg/billing"
	"github.com/meterbridge/meterbridge/pkg/common"
	"github.com/meterbridge/meterbridge/pkg/fetch"
	"github.com/meterbridge/meterbridge/pkg/portal"
	"github.com/meterbridge/meterbridge/pkg/publish"
	"github.com/meterbridge/meterbridge/pkg/resolve"
	"github.com/meterbridge/meterbridge/pkg/session"
	"github.com/meterbridge/meterbridge/pkg/storage"
	"github.com/meterbridge/meterbridge/pkg/types"
)

type timeouts struct {
	auth        time.Duration
	resolve     time.Duration
	key         time.Duration
	concurrency int
}

// Configured registers the bridge flags and builds the enabled pipelines once
// flags are parsed. catalog must already be configured.
func Configured(store storage.Database, sink publish.Sink, catalog *publish.Catalog) *Bridge {
	portals := lflag.String("portals", "digimeto", "comma-delimited list of portals to poll (available: digimeto, minol)")
	optionsFile := lflag.String("options-file", "", "Optional YAML or JSON options file overlaying credentials and billing settings")

	digimetoUser := lflag.String("digimeto-username", "", "Digimeto portal username")
	digimetoPass := lflag.String("digimeto-password", "", "Digimeto portal password")
	digimetoURL := lflag.String("digimeto-url", portal.DefaultDigimetoURL, "Digimeto portal base URL")
	digimetoInterval := lflag.Duration("digimeto-interval", time.Hour, "How often to poll Digimeto")

	minolUser := lflag.String("minol-username", "", "Minol portal e-mail address")
	minolPass := lflag.String("minol-password", "", "Minol portal password")
	minolURL := lflag.String("minol-url", portal.DefaultMinolURL, "Minol portal base URL")
	minolInterval := lflag.Duration("minol-interval", 6*time.Hour, "How often to poll Minol")

	fiscalStart := billing.DefaultFiscalStartMonth
	lflag.JSON(&fiscalStart, "billing-start-month", fiscalStart, "First month (1-12) of the Minol billing period")
	wwFactor := billing.DefaultHotWaterFactor
	lflag.JSON(&wwFactor, "ww-factor", wwFactor, "kWh per m³ used to convert hot water period totals")

	var windows aggregate.Config
	windows.DayWindow = aggregate.DefaultDayWindow
	windows.MonthWindow = aggregate.DefaultMonthWindow
	windows.YearWindow = aggregate.DefaultYearWindow
	lflag.JSON(&windows.DayWindow, "history-days-window", windows.DayWindow, "Number of daily history values to publish")
	lflag.JSON(&windows.MonthWindow, "history-months-window", windows.MonthWindow, "Number of monthly history values to publish")
	lflag.JSON(&windows.YearWindow, "history-years-window", windows.YearWindow, "Number of yearly history values to publish")
	historyDays := DefaultHistoryDays
	lflag.JSON(&historyDays, "digimeto-history-days", historyDays, "How many days of Digimeto history to request")
	monthsBack := DefaultMonthsBack
	lflag.JSON(&monthsBack, "minol-months-back", monthsBack, "How many months of Minol history to request")

	timezone := lflag.String("timezone", "Europe/Berlin", "Timezone used for calendar days and billing periods")
	httpTimeout := lflag.Duration("portal-http-timeout", time.Minute, "Timeout for a single portal HTTP request")
	cycleTimeout := lflag.Duration("cycle-timeout", DefaultCycleTimeout, "Upper bound for one poll cycle")
	var to timeouts
	authTimeout := lflag.Duration("auth-timeout", session.DefaultAuthTimeout, "Upper bound for one portal login")
	resolveTimeout := lflag.Duration("resolve-timeout", 30*time.Second, "Upper bound for identifier resolution")
	keyTimeout := lflag.Duration("fetch-timeout", 2*time.Minute, "Upper bound for fetching one series")
	to.concurrency = 4
	lflag.JSON(&to.concurrency, "fetch-concurrency", to.concurrency, "How many series to fetch at once")

	client := common.HTTPClient(time.Minute)
	digimetoAuth := auth.Configured("digimeto", "form", portal.DigimetoTokenCookie, portal.DigimetoFormLogin(client))
	minolAuth := auth.Configured("minol", "command", portal.MinolTokenCookie, nil)

	b := &Bridge{}
	lflag.Do(func() {
		client.Timeout = *httpTimeout
		s := settings{
			digimeto: portalSettings{username: *digimetoUser, password: *digimetoPass, baseURL: *digimetoURL, interval: *digimetoInterval},
			minol:    portalSettings{username: *minolUser, password: *minolPass, baseURL: *minolURL, interval: *minolInterval},
			billing:  billing.Config{FiscalStartMonth: fiscalStart, HotWaterFactor: wwFactor},
		}
		if *optionsFile != "" {
			o, err := LoadOptions(*optionsFile)
			if err != nil {
				panic(err.Error())
			}
			o.apply(&s)
		}
		if err := s.validate(); err != nil {
			panic(err.Error())
		}
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid timezone: %v", err))
		}
		to.auth = *authTimeout
		to.resolve = *resolveTimeout
		to.key = *keyTimeout

		var pipelines []Pipeline
		for _, name := range strings.Split(*portals, ",") {
			switch strings.TrimSpace(name) {
			case "":
			case "digimeto":
				d, err := portal.NewDigimeto(client, s.digimeto.baseURL)
				if err != nil {
					panic(fmt.Sprintf("digimeto setup failed: %v", err))
				}
				pipelines = append(pipelines, &DigimetoPipeline{
					Fetcher:     newFetcher[types.RawPeriodSeries](store, digimetoAuth, d, "digimeto", portal.DigimetoTokenCookie, s.digimeto, to),
					Engine:      aggregate.New(windows),
					Catalog:     *catalog,
					Location:    loc,
					HistoryDays: historyDays,
					Every:       s.digimeto.interval,
				})
			case "minol":
				m, err := portal.NewMinol(client, s.minol.baseURL)
				if err != nil {
					panic(fmt.Sprintf("minol setup failed: %v", err))
				}
				pipelines = append(pipelines, &MinolPipeline{
					Fetcher:    newFetcher[types.ConsumptionReport](store, minolAuth, m, "minol", portal.MinolTokenCookie, s.minol, to),
					Billing:    s.billing,
					Catalog:    *catalog,
					Location:   loc,
					MonthsBack: monthsBack,
					Every:      s.minol.interval,
				})
			default:
				panic(fmt.Sprintf("unknown portal: %s", name))
			}
		}
		b.setup(sink, *cycleTimeout, pipelines)
	})
	return b
}

type portalSource[T any] interface {
	resolve.Resolver
	fetch.Source[T]
}

func newFetcher[T any](store storage.Database, actor auth.Authenticator, src portalSource[T], key, tokenCookie string, ps portalSettings, to timeouts) *fetch.Fetcher[T] {
	mgr := session.New(store, actor, session.Config{
		Key:         key,
		TokenCookie: tokenCookie,
		Credentials: auth.Credentials{Username: ps.username, Password: ps.password, BaseURL: ps.baseURL},
		AuthTimeout: to.auth,
	})
	cache := resolve.NewCache(src)
	mgr.AddRefresher(cache)
	return &fetch.Fetcher[T]{
		Sessions:       mgr,
		Identifiers:    cache,
		Source:         src,
		Concurrency:    to.concurrency,
		ResolveTimeout: to.resolve,
		KeyTimeout:     to.key,
	}
}

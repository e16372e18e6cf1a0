package bridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meterbridge/meterbridge/pkg/billing"
)

// Options is the add-on style options file. JSON is accepted since it is a
// subset of YAML. Unset fields leave the flag values alone.
type Options struct {
	DigimetoUsername  string   `yaml:"digimeto_username"`
	DigimetoPassword  string   `yaml:"digimeto_password"`
	DigimetoURL       string   `yaml:"digimeto_base_url"`
	MinolEmail        string   `yaml:"minol_email"`
	MinolPassword     string   `yaml:"minol_password"`
	MinolURL          string   `yaml:"base_url"`
	ScanIntervalHours *float64 `yaml:"scan_interval_hours"`
	WWFactor          *float64 `yaml:"ww_factor"`
	BillingStartMonth *int     `yaml:"billing_start_month"`
}

// LoadOptions reads and decodes the options file at path.
func LoadOptions(path string) (Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options file: %w", err)
	}
	var o Options
	if err := yaml.Unmarshal(b, &o); err != nil {
		return Options{}, fmt.Errorf("failed to decode options file %s: %w", path, err)
	}
	return o, nil
}

type portalSettings struct {
	username string
	password string
	baseURL  string
	interval time.Duration
}

type settings struct {
	digimeto portalSettings
	minol    portalSettings
	billing  billing.Config
}

func (o Options) apply(s *settings) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.digimeto.username, o.DigimetoUsername)
	set(&s.digimeto.password, o.DigimetoPassword)
	set(&s.digimeto.baseURL, o.DigimetoURL)
	set(&s.minol.username, o.MinolEmail)
	set(&s.minol.password, o.MinolPassword)
	set(&s.minol.baseURL, o.MinolURL)
	if o.ScanIntervalHours != nil && *o.ScanIntervalHours > 0 {
		s.minol.interval = time.Duration(*o.ScanIntervalHours * float64(time.Hour))
	}
	if o.WWFactor != nil {
		s.billing.HotWaterFactor = *o.WWFactor
	}
	if o.BillingStartMonth != nil {
		s.billing.FiscalStartMonth = *o.BillingStartMonth
	}
}

func (s settings) validate() error {
	if s.billing.FiscalStartMonth < 1 || s.billing.FiscalStartMonth > 12 {
		return fmt.Errorf("invalid billing start month: %d", s.billing.FiscalStartMonth)
	}
	if s.billing.HotWaterFactor <= 0 {
		return fmt.Errorf("invalid hot water factor: %v", s.billing.HotWaterFactor)
	}
	for name, p := range map[string]portalSettings{"digimeto": s.digimeto, "minol": s.minol} {
		if p.interval <= 0 {
			return fmt.Errorf("invalid %s interval: %v", name, p.interval)
		}
	}
	return nil
}

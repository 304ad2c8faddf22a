package utility

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/penalty"
	"github.com/raterudder/autopilot/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Plan is a tariff plan together with the carbon region it draws from.
type Plan struct {
	types.TariffPlan `yaml:",inline"`
	Region           string `yaml:"region"`
}

// Data is the contents of a tariff file. Carbon profiles are keyed by region
// code and indexed by hour.
type Data struct {
	DefaultRegion string               `yaml:"defaultRegion"`
	Plans         []Plan               `yaml:"plans"`
	Carbon        map[string][]float64 `yaml:"carbon"`
}

// Parse decodes tariff data from YAML. Plans whose slots leave hours
// uncovered are accepted but logged, since lookups fall back to a neutral
// cost for those hours.
func Parse(b []byte) (Data, error) {
	var d Data
	if err := yaml.Unmarshal(b, &d); err != nil {
		return Data{}, fmt.Errorf("failed to parse tariff data: %w", err)
	}
	seen := make(map[string]bool, len(d.Plans))
	for _, p := range d.Plans {
		if p.ID == "" {
			return Data{}, errors.New("tariff plan missing id")
		}
		if seen[p.ID] {
			return Data{}, fmt.Errorf("duplicate tariff plan: %s", p.ID)
		}
		seen[p.ID] = true
		for _, s := range p.Slots {
			if s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 0 || s.EndHour > 24 {
				return Data{}, fmt.Errorf("tariff plan %s has invalid slot %d-%d", p.ID, s.StartHour, s.EndHour)
			}
		}
		if gaps := UncoveredHours(p.Slots); len(gaps) > 0 {
			log.Ctx(context.Background()).Warn(
				"tariff plan does not cover every hour",
				slog.String("planID", p.ID),
				slog.Any("hours", gaps),
			)
		}
	}
	for region, values := range d.Carbon {
		if len(values) != 24 {
			return Data{}, fmt.Errorf("carbon profile %s has %d hours, expected 24", region, len(values))
		}
	}
	return d, nil
}

// LoadFile reads and parses a tariff YAML file.
func LoadFile(path string) (Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("failed to read tariff file: %w", err)
	}
	return Parse(b)
}

// Defaults returns the built-in tariff data.
func Defaults() Data {
	d, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in tariff data: %v", err))
	}
	return d
}

// UncoveredHours returns the hours of the day no slot covers.
func UncoveredHours(slots []types.TariffSlot) []int {
	var out []int
	for h := 0; h < 24; h++ {
		if _, ok := penalty.SlotForHour(h, slots); !ok {
			out = append(out, h)
		}
	}
	return out
}

// FallbackProfile returns a flat profile at the regional average.
func FallbackProfile() []types.CarbonPoint {
	out := make([]types.CarbonPoint, 24)
	for h := range out {
		out[h] = types.CarbonPoint{Hour: h, GCO2PerKWh: penalty.FallbackCarbonGCO2}
	}
	return out
}

type cachedProfile struct {
	profile   []types.CarbonPoint
	fetchedAt time.Time
}

// FileProvider serves tariff and carbon data loaded from YAML. If a carbon
// URL is set, profiles are fetched from it and the file profile is used when
// the fetch fails.
type FileProvider struct {
	mu   sync.Mutex
	data Data

	client    *http.Client
	carbonURL string
	cacheTTL  time.Duration
	cache     map[string]cachedProfile
	now       func() time.Time
}

// NewFileProvider returns a provider serving data.
func NewFileProvider(data Data) *FileProvider {
	return &FileProvider{
		data:  data,
		cache: make(map[string]cachedProfile),
		now:   time.Now,
	}
}

// SetData replaces the served data.
func (p *FileProvider) SetData(data Data) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = data
	p.cache = make(map[string]cachedProfile)
}

// SetCarbonURL enables fetching carbon profiles from rawURL. Any "{region}"
// in rawURL is replaced with the escaped region code.
func (p *FileProvider) SetCarbonURL(rawURL string, client *http.Client, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.carbonURL = rawURL
	p.client = client
	p.cacheTTL = ttl
}

// Plans returns the configured tariff plans.
func (p *FileProvider) Plans() []Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Plan(nil), p.data.Plans...)
}

// TariffSlots implements Provider.
func (p *FileProvider) TariffSlots(ctx context.Context, planID string) ([]types.TariffSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, plan := range p.data.Plans {
		if plan.ID == planID {
			return append([]types.TariffSlot(nil), plan.Slots...), nil
		}
	}
	log.Ctx(ctx).WarnContext(ctx, "unknown tariff plan", slog.String("planID", planID))
	return nil, nil
}

// RegionForPlan returns the carbon region of the plan, or the default region.
func (p *FileProvider) RegionForPlan(planID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, plan := range p.data.Plans {
		if plan.ID == planID && plan.Region != "" {
			return plan.Region
		}
	}
	return p.data.DefaultRegion
}

// CarbonProfile implements Provider.
func (p *FileProvider) CarbonProfile(ctx context.Context, regionCode string) ([]types.CarbonPoint, error) {
	p.mu.Lock()
	if regionCode == "" {
		regionCode = p.data.DefaultRegion
	}
	carbonURL := p.carbonURL
	if carbonURL != "" {
		if c, ok := p.cache[regionCode]; ok && p.now().Sub(c.fetchedAt) < p.cacheTTL {
			p.mu.Unlock()
			return c.profile, nil
		}
	}
	values := p.data.Carbon[regionCode]
	p.mu.Unlock()

	if carbonURL != "" {
		profile, err := p.fetchProfile(ctx, carbonURL, regionCode)
		if err == nil {
			p.mu.Lock()
			p.cache[regionCode] = cachedProfile{profile: profile, fetchedAt: p.now()}
			p.mu.Unlock()
			return profile, nil
		}
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to fetch carbon profile, using file profile",
			slog.String("region", regionCode),
			slog.Any("error", err),
		)
	}

	if len(values) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no carbon profile for region, using fallback", slog.String("region", regionCode))
		return FallbackProfile(), nil
	}
	out := make([]types.CarbonPoint, len(values))
	for h, v := range values {
		out[h] = types.CarbonPoint{Hour: h, GCO2PerKWh: v}
	}
	return out, nil
}

func (p *FileProvider) fetchProfile(ctx context.Context, rawURL, region string) ([]types.CarbonPoint, error) {
	u := strings.ReplaceAll(rawURL, "{region}", url.QueryEscape(region))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch carbon profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("carbon profile api returned status: %d", resp.StatusCode)
	}

	var profile []types.CarbonPoint
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode carbon profile: %w", err)
	}
	if len(profile) == 0 {
		return nil, errors.New("carbon profile api returned no hours")
	}
	return profile, nil
}

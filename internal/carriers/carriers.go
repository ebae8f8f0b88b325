package carriers

// Package carriers holds the carrier registry: tracking URL templates and
// default delivery time frames, keyed by the carrier display name.

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// trackingPlaceholder marks where the escaped tracking number is substituted.
const trackingPlaceholder = "{tracking}"

type Carrier struct {
	Name                string
	TrackingURLTemplate string
	MinDays             int
	MaxDays             int
}

type Registry struct {
	byName map[string]Carrier
}

// builtin carries the carriers supported out of the box. "Autre" is listed
// without a template: custom carriers have no tracking page we can derive.
func builtin() *Registry {
	entries := []Carrier{
		{Name: "La Poste", TrackingURLTemplate: "https://www.laposte.fr/outils/suivre-vos-envois?code=" + trackingPlaceholder, MinDays: 2, MaxDays: 5},
		{Name: "Chronopost", TrackingURLTemplate: "https://www.chronopost.fr/tracking-no-cms/suivi-page?listeNumerosLT=" + trackingPlaceholder, MinDays: 1, MaxDays: 2},
		{Name: "DHL", TrackingURLTemplate: "https://www.dhl.com/fr-fr/home/tracking/tracking-express.html?submit=1&tracking-id=" + trackingPlaceholder, MinDays: 1, MaxDays: 3},
		{Name: "UPS", TrackingURLTemplate: "https://www.ups.com/track?tracknum=" + trackingPlaceholder, MinDays: 2, MaxDays: 5},
		{Name: "FedEx", TrackingURLTemplate: "https://www.fedex.com/fedextrack/?trknbr=" + trackingPlaceholder, MinDays: 2, MaxDays: 5},
		{Name: "TNT", TrackingURLTemplate: "https://www.tnt.com/express/fr_fr/site/outils-expedition/suivi.html?searchType=con&cons=" + trackingPlaceholder, MinDays: 2, MaxDays: 4},
		{Name: "Mondial Relay", TrackingURLTemplate: "https://www.mondialrelay.fr/suivi-de-colis?numeroExpedition=" + trackingPlaceholder, MinDays: 3, MaxDays: 6},
		{Name: "Autre", MinDays: 0, MaxDays: 7},
	}

	byName := make(map[string]Carrier, len(entries))
	for _, entry := range entries {
		byName[entry.Name] = entry
	}
	return &Registry{byName: byName}
}

var (
	registry     atomic.Pointer[Registry]
	registryOnce sync.Once
)

// active returns the process-wide registry, building the builtin set exactly
// once if Configure was never called.
func active() *Registry {
	if r := registry.Load(); r != nil {
		return r
	}
	registryOnce.Do(func() {
		registry.CompareAndSwap(nil, builtin())
	})
	return registry.Load()
}

// Configure replaces the process registry with the builtin set overlaid with
// the entries from the given YAML file. Intended to be called once at startup,
// before any carrier lookups.
func Configure(path string) error {
	loaded, err := Load(path)
	if err != nil {
		return err
	}
	registry.Store(loaded)
	return nil
}

type carrierFile struct {
	Carriers []struct {
		Name        string `yaml:"name"`
		TrackingURL string `yaml:"tracking_url"`
		MinDays     int    `yaml:"min_days"`
		MaxDays     int    `yaml:"max_days"`
	} `yaml:"carriers"`
}

// Load builds a registry from the builtin carriers plus the overrides and
// additions found in the YAML file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read carrier config: %w", err)
	}

	var file carrierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse carrier config: %w", err)
	}

	result := builtin()
	for _, entry := range file.Carriers {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("carrier config entry without a name")
		}
		carrier := Carrier{
			Name:                name,
			TrackingURLTemplate: strings.TrimSpace(entry.TrackingURL),
			MinDays:             entry.MinDays,
			MaxDays:             entry.MaxDays,
		}
		if existing, ok := result.byName[name]; ok {
			if carrier.TrackingURLTemplate == "" {
				carrier.TrackingURLTemplate = existing.TrackingURLTemplate
			}
			if carrier.MaxDays == 0 {
				carrier.MinDays = existing.MinDays
				carrier.MaxDays = existing.MaxDays
			}
		}
		result.byName[name] = carrier
	}
	return result, nil
}

// Known reports whether the carrier name is registered.
func Known(name string) bool {
	return active().Known(name)
}

func (r *Registry) Known(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// TrackingURL interpolates the tracking number into the carrier's URL
// template. Unknown carriers, carriers without a template and empty tracking
// numbers all yield "".
func TrackingURL(carrier, trackingNumber string) string {
	return active().TrackingURL(carrier, trackingNumber)
}

func (r *Registry) TrackingURL(carrier, trackingNumber string) string {
	number := strings.TrimSpace(trackingNumber)
	if number == "" {
		return ""
	}
	entry, ok := r.byName[carrier]
	if !ok || entry.TrackingURLTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(entry.TrackingURLTemplate, trackingPlaceholder, url.QueryEscape(number))
}

// DefaultTimeframe returns the carrier's default min/max transit days.
func DefaultTimeframe(carrier string) (minDays, maxDays int, ok bool) {
	return active().DefaultTimeframe(carrier)
}

func (r *Registry) DefaultTimeframe(carrier string) (minDays, maxDays int, ok bool) {
	entry, found := r.byName[carrier]
	if !found || entry.MaxDays <= 0 {
		return 0, 0, false
	}
	return entry.MinDays, entry.MaxDays, true
}

// Names returns the registered carrier names, for diagnostics.
func Names() []string {
	r := active()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

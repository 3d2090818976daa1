package sources

import (
	"fmt"
	"sort"
	"time"

	"LighthouseMacro/internal/domain/apperr"
	"LighthouseMacro/internal/domain/models"
	"LighthouseMacro/internal/domain/repository"
	"LighthouseMacro/pkg/cache"
	"LighthouseMacro/pkg/config"
	applogger "LighthouseMacro/pkg/logger"
)

// defaultCredentialKeys names the secrets-file entry each provider reads
// unless the provider config overrides it. Absent entries need no key.
var defaultCredentialKeys = map[models.Provider]string{
	models.ProviderEconomic: "FRED_API_KEY",
	models.ProviderMarket:   "FINNHUB_API_KEY",
	models.ProviderLabor:    "BLS_API_KEY",
}

// CredentialKey returns the secrets-file key the provider reads, or "".
func CredentialKey(p models.Provider, pc config.ProviderConfig) string {
	if pc.CredentialKey != "" {
		return pc.CredentialKey
	}
	return defaultCredentialKeys[p]
}

type constructor func(Settings) repository.SourceAdapter

var constructors = map[models.Provider]constructor{
	models.ProviderEconomic:   func(s Settings) repository.SourceAdapter { return NewEconomicAdapter(s) },
	models.ProviderMarket:     func(s Settings) repository.SourceAdapter { return NewMarketAdapter(s) },
	models.ProviderStablecoin: func(s Settings) repository.SourceAdapter { return NewStablecoinAdapter(s) },
	models.ProviderFiscal:     func(s Settings) repository.SourceAdapter { return NewFiscalAdapter(s) },
	models.ProviderLabor:      func(s Settings) repository.SourceAdapter { return NewLaborAdapter(s) },
}

// Registry resolves a provider to its adapter. Providers that are switched
// off or lack a credential stay registered as disabled with a reason.
type Registry struct {
	adapters map[models.Provider]repository.SourceAdapter
	disabled map[models.Provider]string
}

// RegistryOptions carries the shared collaborators handed to every adapter.
type RegistryOptions struct {
	Cache          cache.Service
	CacheTTL       time.Duration
	RequestTimeout time.Duration
	Logger         *applogger.Logger
}

func NewRegistry(providers config.ProvidersConfig, creds config.Credentials, opts RegistryOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = applogger.Nop()
	}
	r := &Registry{
		adapters: make(map[models.Provider]repository.SourceAdapter),
		disabled: make(map[models.Provider]string),
	}
	limiters := NewLimiters()

	for _, p := range models.Providers() {
		pc, _ := providers.For(string(p))
		if !pc.IsEnabled() {
			r.disabled[p] = "disabled in configuration"
			continue
		}
		key := ""
		if name := CredentialKey(p, pc); name != "" {
			key = creds.Get(name)
			if key == "" {
				r.disabled[p] = fmt.Sprintf("missing credential %s", name)
				log.Warn("provider disabled",
					applogger.String("provider", string(p)),
					applogger.String("reason", r.disabled[p]),
				)
				continue
			}
		}
		r.adapters[p] = constructors[p](Settings{
			BaseURL:           pc.BaseURL,
			APIKey:            key,
			RequestsPerSecond: pc.RequestsPerSecond,
			Burst:             pc.Burst,
			PageSize:          pc.PageSize,
			Timeout:           opts.RequestTimeout,
			Limiters:          limiters,
			Cache:             opts.Cache,
			CacheTTL:          opts.CacheTTL,
			Logger:            log.With(applogger.String("provider", string(p))),
		})
	}
	return r
}

// NewStaticRegistry wraps ready-made adapters.
func NewStaticRegistry(adapters ...repository.SourceAdapter) *Registry {
	r := &Registry{
		adapters: make(map[models.Provider]repository.SourceAdapter),
		disabled: make(map[models.Provider]string),
	}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Adapter returns the provider's adapter, or a ConfigError carrying the
// reason it is unavailable.
func (r *Registry) Adapter(p models.Provider) (repository.SourceAdapter, error) {
	if a, ok := r.adapters[p]; ok {
		return a, nil
	}
	if reason, ok := r.disabled[p]; ok {
		return nil, apperr.Config("provider %s unavailable: %s", p, reason)
	}
	return nil, apperr.Config("no adapter for provider %s", p)
}

// Disabled returns provider -> reason for every unavailable provider.
func (r *Registry) Disabled() map[models.Provider]string {
	out := make(map[models.Provider]string, len(r.disabled))
	for k, v := range r.disabled {
		out[k] = v
	}
	return out
}

// Enabled lists the providers with a live adapter.
func (r *Registry) Enabled() []models.Provider {
	out := make([]models.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

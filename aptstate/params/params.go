// Package params holds the module's parameter surface: the keys the
// orchestration engine sends, their aliases, coercion and validation.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cast"
	"github.com/steelcutops/aptstate/aptstate"
)

type State string

const (
	StateInstalled State = "installed"
	StatePresent   State = "present"
	StateLatest    State = "latest"
	StateRemoved   State = "removed"
	StateAbsent    State = "absent"
)

// Installs reports whether the state requires packages to be present.
func (s State) Installs() bool {
	return s == StateInstalled || s == StatePresent || s == StateLatest
}

type UpgradeMode string

const (
	UpgradeNone UpgradeMode = ""
	UpgradeYes  UpgradeMode = "yes"
	UpgradeSafe UpgradeMode = "safe"
	UpgradeFull UpgradeMode = "full"
	UpgradeDist UpgradeMode = "dist"
)

// NeedsAptitude reports whether the mode is carried out by aptitude.
func (m UpgradeMode) NeedsAptitude() bool {
	return m == UpgradeYes || m == UpgradeSafe || m == UpgradeFull
}

// Params is the flat parameter record of one run.
type Params struct {
	State             State
	UpdateCache       bool
	CacheValidTime    time.Duration
	Purge             bool
	Packages          []string
	DefaultRelease    string
	InstallRecommends bool
	Force             bool
	Upgrade           UpgradeMode
	CheckMode         bool
}

// Default returns the parameters used for keys that are not given.
func Default() Params {
	return Params{
		State:             StateInstalled,
		InstallRecommends: true,
	}
}

const (
	keyState             = "state"
	keyUpdateCache       = "update_cache"
	keyCacheValidTime    = "cache_valid_time"
	keyPurge             = "purge"
	keyPackage           = "package"
	keyDefaultRelease    = "default_release"
	keyInstallRecommends = "install_recommends"
	keyForce             = "force"
	keyUpgrade           = "upgrade"
	keyCheckMode         = "check_mode"
)

var aliases = map[string]string{
	keyState:              keyState,
	keyUpdateCache:        keyUpdateCache,
	"update-cache":        keyUpdateCache,
	keyCacheValidTime:     keyCacheValidTime,
	keyPurge:              keyPurge,
	keyPackage:            keyPackage,
	"pkg":                 keyPackage,
	"name":                keyPackage,
	keyDefaultRelease:     keyDefaultRelease,
	"default-release":     keyDefaultRelease,
	keyInstallRecommends:  keyInstallRecommends,
	"install-recommends":  keyInstallRecommends,
	keyForce:              keyForce,
	keyUpgrade:            keyUpgrade,
	keyCheckMode:          keyCheckMode,
	"_ansible_check_mode": keyCheckMode,
}

// Canonical returns the canonical key for name, or false when unknown.
func Canonical(name string) (string, bool) {
	key, ok := aliases[strings.TrimSpace(name)]
	return key, ok
}

// FromMap coerces raw, loosely typed values into Params. Unset keys keep
// their defaults. It does not check combinations; see Validate.
func FromMap(raw map[string]interface{}) (Params, error) {
	p := Default()
	var result *multierror.Error

	seen := map[string]string{}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := raw[name]
		key, ok := Canonical(name)
		if !ok {
			result = multierror.Append(result, aptstate.Validationf("unsupported parameter: %s", name))
			continue
		}
		if prev, dup := seen[key]; dup {
			result = multierror.Append(result, aptstate.Validationf("parameters are mutually exclusive: %s|%s", prev, name))
			continue
		}
		seen[key] = name

		if err := p.set(key, value); err != nil {
			result = multierror.Append(result, aptstate.Validationf("%s: %v", name, err))
		}
	}

	return p, asValidation(result)
}

func (p *Params) set(key string, value interface{}) error {
	var err error
	switch key {
	case keyState:
		var s string
		s, err = cast.ToStringE(value)
		p.State = State(strings.ToLower(strings.TrimSpace(s)))
	case keyUpdateCache:
		p.UpdateCache, err = parseBool(value)
	case keyCacheValidTime:
		var secs int
		secs, err = parseSeconds(value)
		p.CacheValidTime = time.Duration(secs) * time.Second
	case keyPurge:
		p.Purge, err = parseBool(value)
	case keyPackage:
		p.Packages, err = parseList(value)
	case keyDefaultRelease:
		p.DefaultRelease, err = cast.ToStringE(value)
		p.DefaultRelease = strings.TrimSpace(p.DefaultRelease)
	case keyInstallRecommends:
		p.InstallRecommends, err = parseBool(value)
	case keyForce:
		p.Force, err = parseBool(value)
	case keyUpgrade:
		var s string
		s, err = cast.ToStringE(value)
		p.Upgrade, err = parseUpgrade(s, value, err)
	case keyCheckMode:
		p.CheckMode, err = parseBool(value)
	}
	return err
}

// Validate rejects invalid values and combinations. Every problem found is
// reported, each as an aptstate.ValidationError.
func (p Params) Validate() error {
	var result *multierror.Error

	switch p.State {
	case StateInstalled, StatePresent, StateLatest, StateRemoved, StateAbsent:
	default:
		result = multierror.Append(result, aptstate.Validationf("value of state must be one of: installed, latest, removed, absent, present, got: %s", p.State))
	}

	switch p.Upgrade {
	case UpgradeNone, UpgradeYes, UpgradeSafe, UpgradeFull, UpgradeDist:
	default:
		result = multierror.Append(result, aptstate.Validationf("value of upgrade must be one of: yes, safe, full, dist, got: %s", p.Upgrade))
	}

	if p.CacheValidTime < 0 {
		result = multierror.Append(result, aptstate.Validationf("cache_valid_time must not be negative"))
	}

	if len(p.Packages) > 0 && p.Upgrade != UpgradeNone {
		result = multierror.Append(result, aptstate.Validationf("parameters are mutually exclusive: package|upgrade"))
	}

	if len(p.Packages) == 0 && p.Upgrade == UpgradeNone && !p.UpdateCache {
		result = multierror.Append(result, aptstate.Validationf("one of the following is required: package, upgrade, update_cache"))
	}

	return asValidation(result)
}

// asValidation folds the collected problems into one ValidationError.
func asValidation(result *multierror.Error) error {
	err := result.ErrorOrNil()
	if err == nil {
		return nil
	}
	return &aptstate.ValidationError{Msg: flatten(result), Err: err}
}

func flatten(m *multierror.Error) string {
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var truthy = map[string]bool{
	"yes": true, "on": true, "true": true, "1": true, "y": true,
	"no": false, "off": false, "false": false, "0": false, "n": false,
}

func parseBool(value interface{}) (bool, error) {
	if s, ok := value.(string); ok {
		b, known := truthy[strings.ToLower(strings.TrimSpace(s))]
		if !known {
			return false, fmt.Errorf("%q is not a valid boolean", s)
		}
		return b, nil
	}
	return cast.ToBoolE(value)
}

// parseSeconds reads a count of seconds. Strings are always base 10, so a
// zero-padded "0100" is a hundred seconds.
func parseSeconds(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(value)
}

// parseUpgrade accepts the mode names as well as a native boolean, which
// TOML and YAML files produce for upgrade = true.
func parseUpgrade(s string, raw interface{}, castErr error) (UpgradeMode, error) {
	if b, ok := raw.(bool); ok {
		if b {
			return UpgradeYes, nil
		}
		return UpgradeNone, nil
	}
	if castErr != nil {
		return UpgradeNone, castErr
	}
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "no", "false":
		return UpgradeNone, nil
	case "true":
		return UpgradeYes, nil
	}
	return UpgradeMode(s), nil
}

func parseList(value interface{}) ([]string, error) {
	var items []string
	switch v := value.(type) {
	case string:
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []interface{}:
		for _, item := range v {
			s, err := cast.ToStringE(item)
			if err != nil {
				return nil, err
			}
			items = append(items, s)
		}
	default:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, err
		}
		items = strings.Split(s, ",")
	}

	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

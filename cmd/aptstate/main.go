package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"
	"github.com/steelcutops/aptstate/aptstate"
	"github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/host"
	"github.com/steelcutops/aptstate/aptstate/hostgroup"
	"github.com/steelcutops/aptstate/aptstate/params"
	"github.com/steelcutops/aptstate/logger"

	"golang.org/x/term"
	"gopkg.in/ini.v1"
)

type flags struct {
	ArgsFile           string
	CacheValidTime     int
	Check              bool
	Concurrency        int
	Debug              bool
	DefaultRelease     string
	Force              bool
	Group              string
	Hostnames          []string
	IniFilePath        string
	InstallRecommends  bool
	KeyPassPrompt      bool
	KnownHosts         string
	LogFileName        string
	Packages           []string
	PasswordPrompt     bool
	Purge              bool
	State              string
	Sudo               bool
	SudoPasswordPrompt bool
	UpdateCache        bool
	Upgrade            string
	Username           string
}

// errHostsFailed is returned once the per-host results have been written.
var errHostsFailed = errors.New("one or more hosts failed")

func newRootCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aptstate [key=value ...]",
		Short: "Bring apt packages to the requested state",
		Long: `aptstate installs, upgrades or removes Debian packages on one or more hosts
and reports one JSON result per host. Parameters come from --args-file, then
key=value arguments, then flags; later sources win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.ArgsFile, "args-file", "", "Read parameters from an ini, yaml, toml or json file")
	fs.StringVar(&f.State, "state", "", "installed, present, latest, removed or absent")
	fs.StringSliceVar(&f.Packages, "package", nil, "Package, optionally name=version (repeatable)")
	fs.BoolVar(&f.UpdateCache, "update-cache", false, "Run apt-get update first")
	fs.IntVar(&f.CacheValidTime, "cache-valid-time", 0, "Skip the update when the cache is younger than this many seconds")
	fs.BoolVar(&f.Purge, "purge", false, "Purge configuration files when removing")
	fs.StringVar(&f.DefaultRelease, "default-release", "", "Release to install from (apt-get -t)")
	fs.BoolVar(&f.InstallRecommends, "install-recommends", true, "Install recommended packages")
	fs.BoolVar(&f.Force, "force", false, "Pass --force-yes to apt-get")
	fs.StringVar(&f.Upgrade, "upgrade", "", "Upgrade the system: yes, safe, full or dist")
	fs.BoolVar(&f.Check, "check", false, "Report what would change without changing it")

	fs.StringArrayVar(&f.Hostnames, "hostname", nil, "Hostname to connect to (repeatable)")
	fs.StringVar(&f.IniFilePath, "inventory", "", "Path to INI file with host groups")
	fs.StringVar(&f.Group, "group", "", "Only use this inventory group")
	fs.StringVar(&f.Username, "username", "", "Username to use for SSH connection")
	fs.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for the SSH password")
	fs.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for the SSH key passphrase")
	fs.BoolVar(&f.Sudo, "sudo", false, "Run apt-get through sudo")
	fs.BoolVar(&f.SudoPasswordPrompt, "sudo-password", false, "Prompt for the sudo password")
	fs.StringVar(&f.KnownHosts, "known-hosts", "", "Verify host keys against this known_hosts file")
	fs.IntVar(&f.Concurrency, "concurrency", 10, "Maximum number of concurrent host connections")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	fs.StringVar(&f.LogFileName, "log-file", "", "Write logs to this file instead of stderr")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(&flags{}).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errHostsFailed) {
			fmt.Fprintln(os.Stderr, "aptstate:", err)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, f *flags, args []string) error {
	log, closeLog, err := configureLogger(f, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	p, err := collectParams(cmd, f, args)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	hostnames, err := targets(f)
	if err != nil {
		return err
	}

	password, keyPass, sudoPass := readPasswords(f, cmd.ErrOrStderr())
	options := buildHostOptions(f, log, password, keyPass, sudoPass)

	ctx := cmd.Context()
	hostGroup, failed := addHosts(ctx, hostnames, log, options...)

	results, err := hostGroup.Ensure(ctx, f.Concurrency, p)
	results = append(results, failed...)
	sort.Slice(results, func(i, j int) bool {
		return results[i].Hostname < results[j].Hostname
	})

	if werr := writeResults(cmd.OutOrStdout(), results); werr != nil {
		return werr
	}
	if err != nil || len(failed) > 0 {
		log.Error("Run failed", "error", err, "unreachable", len(failed))
		return errHostsFailed
	}
	return nil
}

func configureLogger(f *flags, stderr io.Writer) (logger.Logger, func(), error) {
	out := stderr
	closeLog := func() {}
	if f.LogFileName != "" {
		file, err := os.OpenFile(f.LogFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		closeLog = func() { file.Close() }
	}

	log := logger.New(logger.Options{Output: out, Debug: f.Debug})
	log.Debug("Debug mode enabled")
	return log, closeLog, nil
}

// collectParams layers the parameter sources: args file, key=value
// arguments, then flags the user set explicitly.
func collectParams(cmd *cobra.Command, f *flags, args []string) (params.Params, error) {
	var layers []map[string]interface{}
	if f.ArgsFile != "" {
		raw, err := params.Load(f.ArgsFile)
		if err != nil {
			return params.Params{}, err
		}
		layers = append(layers, raw)
	}

	kv, err := params.ParseKeyValues(args)
	if err != nil {
		return params.Params{}, err
	}
	layers = append(layers, kv, flagParams(cmd, f))

	return params.FromMap(params.Merge(layers...))
}

// flagKeys maps parameter flags to their parameter keys.
var flagKeys = map[string]string{
	"state":              "state",
	"package":            "package",
	"update-cache":       "update_cache",
	"cache-valid-time":   "cache_valid_time",
	"purge":              "purge",
	"default-release":    "default_release",
	"install-recommends": "install_recommends",
	"force":              "force",
	"upgrade":            "upgrade",
	"check":              "check_mode",
}

func flagParams(cmd *cobra.Command, f *flags) map[string]interface{} {
	values := map[string]interface{}{
		"state":              f.State,
		"package":            f.Packages,
		"update-cache":       f.UpdateCache,
		"cache-valid-time":   f.CacheValidTime,
		"purge":              f.Purge,
		"default-release":    f.DefaultRelease,
		"install-recommends": f.InstallRecommends,
		"force":              f.Force,
		"upgrade":            f.Upgrade,
		"check":              f.Check,
	}

	raw := map[string]interface{}{}
	for name, key := range flagKeys {
		if cmd.Flags().Changed(name) {
			raw[key] = values[name]
		}
	}
	return raw
}

func readHostsFromFile(filePath string) (map[string][]string, error) {
	cfg, err := ini.Load(filePath)
	if err != nil {
		return nil, err
	}

	hosts := make(map[string][]string)

	for _, section := range cfg.Sections() {
		name := section.Name()
		for _, key := range section.Keys() {
			hosts[name] = append(hosts[name], key.String())
		}
	}

	return hosts, nil
}

// targets lists the hosts to run against, in order and without duplicates.
// With no hosts given the local machine is used.
func targets(f *flags) ([]string, error) {
	hostnames := append([]string(nil), f.Hostnames...)

	if f.IniFilePath != "" {
		groups, err := readHostsFromFile(f.IniFilePath)
		if err != nil {
			return nil, fmt.Errorf("read inventory: %w", err)
		}
		if f.Group != "" {
			members, ok := groups[f.Group]
			if !ok {
				return nil, fmt.Errorf("inventory group %q not found", f.Group)
			}
			hostnames = append(hostnames, members...)
		} else {
			names := make([]string, 0, len(groups))
			for name := range groups {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				hostnames = append(hostnames, groups[name]...)
			}
		}
	}

	if len(hostnames) == 0 {
		return []string{"localhost"}, nil
	}

	seen := map[string]bool{}
	out := hostnames[:0]
	for _, h := range hostnames {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out, nil
}

func readSecret(prompt string, w io.Writer) string {
	fmt.Fprint(w, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		fmt.Fprintln(w, "failed to read input:", err)
		return ""
	}
	return string(secret)
}

func readPasswords(f *flags, w io.Writer) (password, keyPass, sudoPass string) {
	if f.PasswordPrompt {
		password = readSecret("Enter the password: ", w)
	}
	if f.KeyPassPrompt {
		keyPass = readSecret("Enter the key passphrase: ", w)
	}
	if f.SudoPasswordPrompt {
		sudoPass = readSecret("Enter the sudo password: ", w)
	}
	return
}

func buildHostOptions(f *flags, log logger.Logger, password, keyPass, sudoPass string) []host.HostOption {
	options := []host.HostOption{host.WithLogger(log)}
	if f.Username != "" {
		options = append(options, host.WithUser(f.Username))
	}
	if password != "" {
		options = append(options, host.WithPassword(password))
	}
	if keyPass != "" {
		options = append(options, host.WithKeyPassphrase(keyPass))
	}
	if f.Sudo {
		options = append(options, host.WithSudo())
	}
	if sudoPass != "" {
		options = append(options, host.WithSudoPassword(sudoPass))
	}
	if f.KnownHosts != "" {
		options = append(options, host.WithKnownHosts(f.KnownHosts))
	}
	options = append(options, host.WithSSHClient(commandmanager.RealSSHClient{}))
	return options
}

// addHosts connects to every host. Hosts that cannot be set up are reported
// as failed results instead of joining the group.
func addHosts(ctx context.Context, hostnames []string, log logger.Logger, options ...host.HostOption) (*hostgroup.HostGroup, []hostgroup.HostResult) {
	hostGroup := hostgroup.NewHostGroup()
	var failed []hostgroup.HostResult

	for _, hostname := range hostnames {
		log.Debug("Adding host", "host", hostname)
		server, err := host.NewHost(ctx, hostname, options...)
		if err != nil {
			log.Error("Failed to create new host", "host", hostname, "error", err)
			failed = append(failed, hostgroup.HostResult{Hostname: hostname, Result: aptstate.Result{}.Fail(err)})
			continue
		}

		hostGroup.AddHost(server)
	}

	return hostGroup, failed
}

func writeResults(w io.Writer, results []hostgroup.HostResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

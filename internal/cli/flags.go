package cli

import (
	"credrelay/internal/resolver"
	"credrelay/pkg/credential"
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

var errRepeated = errors.New("flag given more than once")

// onceString is a string flag that may be set at most once. Its set state is
// kept apart from its value so that an explicit empty value is still present.
type onceString struct {
	value string
	set   bool
}

func (s *onceString) Set(v string) error {
	if s.set {
		return errRepeated
	}
	s.value, s.set = v, true
	return nil
}

func (s *onceString) String() string { return s.value }
func (s *onceString) Type() string   { return "string" }

func (s *onceString) optional() credential.Optional[string] {
	if !s.set {
		return credential.None[string]()
	}
	return credential.Some(s.value)
}

// onceBool is a boolean switch that may be given at most once.
type onceBool struct {
	value bool
	set   bool
}

func (b *onceBool) Set(v string) error {
	if b.set {
		return errRepeated
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	b.value, b.set = parsed, true
	return nil
}

func (b *onceBool) String() string   { return strconv.FormatBool(b.value) }
func (b *onceBool) Type() string     { return "bool" }
func (b *onceBool) IsBoolFlag() bool { return true }

// options are the global flags. They are accepted before or after the
// operation name.
type options struct {
	cd           onceString
	distribution onceString
	user         onceString
	system       onceBool

	configFile string
	verbose    bool
}

func (o *options) register(fs *pflag.FlagSet) {
	fs.Var(&o.cd, flagName(resolver.FlagCd), "working directory inside the nested environment")
	fs.VarP(&o.distribution, flagName(resolver.FlagDistribution), "d", "target environment (WSL distribution or container)")
	fs.VarP(&o.user, flagName(resolver.FlagUser), "u", "user to run as inside the nested environment")
	fs.Var(&o.system, flagName(resolver.FlagSystem), "run with system scope")
	fs.Lookup(flagName(resolver.FlagSystem)).NoOptDefVal = "true"

	fs.StringVar(&o.configFile, "config", "", "config file (default is $XDG_CONFIG_HOME/git-credential-relay/config.yaml)")
	fs.BoolVar(&o.verbose, "verbose", false, "log spawn and relay details to stderr")
}

// params converts the parsed flags into resolver parameters.
func (o *options) params() resolver.Params {
	return resolver.Params{
		Cd:           o.cd.optional(),
		Distribution: o.distribution.optional(),
		User:         o.user.optional(),
		System:       o.system.value,
	}
}

func flagName(flag string) string {
	return strings.TrimPrefix(flag, "--")
}

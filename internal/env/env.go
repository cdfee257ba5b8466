package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child process environments: OS environment, then the global
// variables from configuration, then each application's own entries.
type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromList builds an Env whose globals come from "K=V" entries.
func FromList(kvs []string) *Env {
	e := New()
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.Var[k] = v
		}
	}
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

func (e *Env) Unset(k string) {
	delete(e.Var, k)
}

// Merge returns the environment for one application as sorted "K=V" entries.
// Later layers override earlier ones. ${VAR} and $VAR references in global and
// per-application values expand against what was composed before them, so
// "PATH=$PATH:/opt/bin" extends the inherited PATH.
func (e *Env) Merge(perApp []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perApp))
	for k, v := range e.env {
		m[k] = v
	}
	lookup := func(k string) string { return m[k] }
	globals := make([]string, 0, len(e.Var))
	for k := range e.Var {
		if k != "" {
			globals = append(globals, k)
		}
	}
	sort.Strings(globals)
	for _, k := range globals {
		m[k] = os.Expand(e.Var[k], lookup)
	}
	for _, kv := range perApp {
		if k, v, ok := split(kv); ok {
			m[k] = os.Expand(v, lookup)
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}

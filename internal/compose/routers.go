package compose

import (
	"regexp"
	"sort"
	"strings"
)

// Router is an HTTP router declared through Traefik docker labels.
type Router struct {
	Name         string
	Service      string // compose service carrying the labels
	Rule         string
	Hosts        []string
	EntryPoints  []string
	TLS          bool
	CertResolver string
	Middlewares  []string
}

const routerPrefix = "traefik.http.routers."

var hostMatcher = regexp.MustCompile("Host(?:Regexp)?\\(([^)]*)\\)")

// HostsFromRule extracts the literal hosts of Host(...) matchers in a Traefik rule.
func HostsFromRule(rule string) []string {
	var hosts []string
	for _, m := range hostMatcher.FindAllStringSubmatch(rule, -1) {
		for _, arg := range strings.Split(m[1], ",") {
			host := strings.Trim(strings.TrimSpace(arg), "`\"'")
			if host != "" {
				hosts = append(hosts, host)
			}
		}
	}
	return hosts
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Routers returns the Traefik HTTP routers of services that do not opt out
// with traefik.enable=false, sorted by name.
func (f *File) Routers() []Router {
	byName := map[string]*Router{}

	for _, svcName := range f.ServiceNames() {
		labels := f.Services[svcName].Labels
		if strings.EqualFold(labels["traefik.enable"], "false") {
			continue
		}

		for key, value := range labels {
			if !strings.HasPrefix(key, routerPrefix) {
				continue
			}
			name, attr, ok := strings.Cut(strings.TrimPrefix(key, routerPrefix), ".")
			if !ok || name == "" {
				continue
			}

			r, seen := byName[name]
			if !seen {
				r = &Router{Name: name, Service: svcName}
				byName[name] = r
			}

			switch attr {
			case "rule":
				r.Rule = value
				r.Hosts = HostsFromRule(value)
			case "entrypoints":
				r.EntryPoints = splitList(value)
			case "tls":
				r.TLS = strings.EqualFold(value, "true")
			case "tls.certresolver":
				r.TLS = true
				r.CertResolver = value
			case "middlewares":
				r.Middlewares = splitList(value)
			}
		}
	}

	routers := make([]Router, 0, len(byName))
	for _, r := range byName {
		if r.Rule == "" {
			continue
		}
		routers = append(routers, *r)
	}
	sort.Slice(routers, func(i, j int) bool { return routers[i].Name < routers[j].Name })
	return routers
}

// Expand returns a copy of the router with ${VAR} references in its rule and
// hosts substituted from lookup.
func (r Router) Expand(lookup func(string) (string, bool)) Router {
	out := r
	out.Rule = Interpolate(r.Rule, lookup)
	out.Hosts = ExpandHosts(r.Rule, lookup)
	return out
}

// URL returns the public URL of the router's first host.
func (r Router) URL() string {
	if len(r.Hosts) == 0 {
		return ""
	}
	scheme := "http"
	if r.TLS {
		scheme = "https"
	}
	return scheme + "://" + r.Hosts[0]
}

// PublicHosts returns the expanded hosts of all routers, deduplicated and sorted.
func (f *File) PublicHosts(lookup func(string) (string, bool)) []string {
	seen := map[string]bool{}
	var hosts []string
	for _, r := range f.Routers() {
		for _, h := range r.Expand(lookup).Hosts {
			if h == "" || seen[h] || strings.ContainsAny(h, "${}") {
				continue
			}
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// ExpandHosts substitutes variables in a router rule and returns its hosts.
func ExpandHosts(rule string, lookup func(string) (string, bool)) []string {
	return HostsFromRule(Interpolate(rule, lookup))
}

package config

import (
	"sort"
	"strings"
)

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	sort.Strings(origins)
	return strings.Join(origins, ", ")
}

// ParseAllowedOrigins splits a comma-separated list. "*" allows any origin.
func ParseAllowedOrigins(list string) AllowedOrigins {
	origins := AllowedOrigins{}
	for _, o := range strings.Split(list, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = nullValue{}
		}
	}
	return origins
}

func (c mainConfig) GetAllowedOrigins() AllowedOrigins {
	return ParseAllowedOrigins(c.v.GetString(KeyAllowedOrigins))
}

func (mainConfig) GetAllowedMethods() string {
	return "GET, POST, DELETE"
}

func (mainConfig) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}

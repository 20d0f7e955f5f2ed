// Package form canonicalizes the loosely-typed submission payloads produced
// by form transports with no native list type: values may arrive as scalars,
// JSON-encoded arrays, or comma-joined strings.
package form

import (
	"encoding/json"
	"fmt"
	"strings"

	"taskline/internal/config"
	"taskline/internal/domain"
)

// Payload is a raw submission body keyed by field name.
type Payload map[string]any

// List coerces a field to a string list: lists are flattened and deduped;
// strings are tried as a JSON array, then split on commas, then treated as a
// single element. Absent or empty fields yield nil.
func (p Payload) List(key string) []string {
	return CoerceList(p[key])
}

// String coerces a field to a trimmed scalar string.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// Bool coerces common truthy spellings. Anything else is false.
func (p Payload) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		}
	case float64:
		return v != 0
	}
	return false
}

// CoerceList canonicalizes a raw value into a deduplicated string list.
func CoerceList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return dedupe(val)
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, CoerceList(item)...)
		}
		return dedupe(out)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				var out []string
				for _, item := range arr {
					out = append(out, CoerceList(item)...)
				}
				return dedupe(out)
			}
		}
		if strings.Contains(s, ",") {
			var out []string
			for _, part := range strings.Split(s, ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			return dedupe(out)
		}
		return []string{s}
	default:
		return []string{strings.TrimSpace(fmt.Sprintf("%v", val))}
	}
}

// MatchEnum matches a value case-insensitively against a fixed allowed set
// and returns the canonical casing. Non-matching or absent values fall back
// to the given default; they are never coerced to an arbitrary member.
func MatchEnum(value string, allowed []string, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	for _, a := range allowed {
		if strings.EqualFold(a, v) {
			return a
		}
	}
	return fallback
}

func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Submission normalizes a raw payload into the canonical record. Flag-gated
// fields (credentials, proxy details) are stored even when their governing
// flag is false; they are only meaningful when it is true.
func Submission(p Payload, cfg *config.Config) domain.Submission {
	countries := p.List("countries")
	if countries == nil {
		// older clients send the singular key
		countries = p.List("country")
	}
	sub := domain.Submission{
		Countries:     countries,
		Volume:        p.String("volume"),
		DeliveryType:  MatchEnum(p.String("delivery_type"), cfg.Catalogs.DeliveryTypes, ""),
		PlatformType:  MatchEnum(p.String("platform_type"), cfg.Catalogs.PlatformTypes, ""),
		Complexity:    MatchEnum(p.String("complexity"), cfg.Catalogs.Complexities, ""),
		Method:        p.String("method"),
		LoginRequired: p.Bool("login_required"),
		Credentials:   p.String("credentials"),
		ProxyUsed:     p.Bool("proxy_used"),
		ProxyName:     p.String("proxy_name"),
		ProxyCredit:   p.String("proxy_credit"),
		ProxyRequests: p.String("proxy_requests"),
		Remark:        p.String("remark"),
		GithubLink:    p.String("github_link"),
		Status:        MatchEnum(p.String("status"), domain.Statuses, domain.StatusSubmitted),
	}
	return sub
}

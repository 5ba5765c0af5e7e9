// SPDX-License-Identifier: Apache-2.0

// Package labels parses container labels under the
// `org.discourse.service._<svc>.<attr>` schema into ServiceInstance
// values. Parsing never fails outright: a service whose labels violate a
// grammar or range rule is dropped with a ParseError and parsing
// continues with the remaining services, collecting field errors rather
// than aborting on the first one.
package labels

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const labelPrefix = "org.discourse.service."

// Protocol is the transport a ServiceInstance is published over.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolBoth Protocol = "both"
)

// Tag is one key/value entry of a ServiceInstance's TXT content. Value is
// opaque bytes; a boolean-only tag (no '=') has IsBoolean set and an empty
// Value.
type Tag struct {
	Key       string
	Value     string
	IsBoolean bool
}

// ServiceInstance is one service parsed from a single container's labels.
type ServiceInstance struct {
	ServiceName string
	Port        uint16
	Protocol    Protocol
	Priority    uint16
	Weight      uint16
	Instance    string
	Tags        []Tag
	Aliases     []string
}

// ParseError describes one service dropped during parsing. It is always
// non-fatal to the caller: the agent logs it at info level and continues.
type ParseError struct {
	ServiceName string
	Reason      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("service %q: %s", e.ServiceName, e.Reason)
}

var serviceNameRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,13}[A-Za-z0-9])?$`)

func validServiceName(name string) bool {
	if len(name) < 1 || len(name) > 15 {
		return false
	}
	if strings.Contains(name, "--") {
		return false
	}
	return serviceNameRE.MatchString(name)
}

// ParseAll extracts every service instance declared in the label set of
// one container. containerName is used as the default `instance` value.
// Labels that don't match the org.discourse.service prefix are ignored.
// Each service is validated independently: a violation drops only that
// service (returned as a ParseError) and never the others.
func ParseAll(containerLabels map[string]string, containerName string) ([]ServiceInstance, []error) {
	grouped := make(map[string]map[string]string)
	for k, v := range containerLabels {
		if !strings.HasPrefix(k, labelPrefix) {
			continue
		}
		rest := strings.TrimPrefix(k, labelPrefix)
		if !strings.HasPrefix(rest, "_") {
			continue
		}
		rest = rest[1:]
		sep := strings.IndexByte(rest, '.')
		if sep < 0 {
			continue
		}
		svc := strings.ToLower(rest[:sep])
		attr := rest[sep+1:]
		if grouped[svc] == nil {
			grouped[svc] = make(map[string]string)
		}
		grouped[svc][attr] = v
	}

	names := make([]string, 0, len(grouped))
	for svc := range grouped {
		names = append(names, svc)
	}
	sort.Strings(names)

	var instances []ServiceInstance
	var errs []error
	for _, svc := range names {
		inst, err := parseOne(svc, grouped[svc], containerName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		instances = append(instances, *inst)
	}
	return instances, errs
}

func parseOne(svc string, attrs map[string]string, containerName string) (*ServiceInstance, error) {
	if !validServiceName(svc) {
		return nil, &ParseError{ServiceName: svc, Reason: "service name must be 1-15 chars, RFC 6335 §5.1 (letters/digits/hyphen, no leading/trailing/double hyphen)"}
	}

	portStr, ok := attrs["port"]
	if !ok {
		return nil, &ParseError{ServiceName: svc, Reason: "no port label; cannot materialize an instance"}
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil || port < 1 || port > 65535 {
		return nil, &ParseError{ServiceName: svc, Reason: fmt.Sprintf("port %q out of range 1-65535", portStr)}
	}

	proto := ProtocolTCP
	if p, ok := attrs["protocol"]; ok {
		switch strings.ToLower(p) {
		case "tcp":
			proto = ProtocolTCP
		case "udp":
			proto = ProtocolUDP
		case "both":
			proto = ProtocolBoth
		default:
			return nil, &ParseError{ServiceName: svc, Reason: fmt.Sprintf("protocol %q must be tcp, udp or both", p)}
		}
	}

	priority, err := parseUint16Attr(attrs, "priority", 0)
	if err != nil {
		return nil, &ParseError{ServiceName: svc, Reason: err.Error()}
	}
	weight, err := parseUint16Attr(attrs, "weight", 0)
	if err != nil {
		return nil, &ParseError{ServiceName: svc, Reason: err.Error()}
	}

	instance := containerName
	if v, ok := attrs["instance"]; ok {
		instance = v
	}
	if len(instance) == 0 || len([]byte(instance)) > 63 {
		return nil, &ParseError{ServiceName: svc, Reason: "instance name must be 1-63 octets"}
	}

	tags, err := parseTags(attrs)
	if err != nil {
		return nil, &ParseError{ServiceName: svc, Reason: err.Error()}
	}

	var aliases []string
	if v, ok := attrs["aliases"]; ok {
		for _, a := range strings.Split(v, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				aliases = append(aliases, a)
			}
		}
	}

	return &ServiceInstance{
		ServiceName: strings.ToLower(svc),
		Port:        uint16(port),
		Protocol:    proto,
		Priority:    priority,
		Weight:      weight,
		Instance:    instance,
		Tags:        tags,
		Aliases:     aliases,
	}, nil
}

func parseUint16Attr(attrs map[string]string, key string, def uint16) (uint16, error) {
	v, ok := attrs[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n > 65535 {
		return 0, fmt.Errorf("%s %q out of range 0-65535", key, v)
	}
	return uint16(n), nil
}

func validTagKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < 0x20 || r > 0x7E || r == '=' {
			return false
		}
	}
	return true
}

func parseTags(attrs map[string]string) ([]Tag, error) {
	var tags []Tag

	var keyedAttrs []string
	for attr := range attrs {
		if strings.HasPrefix(attr, "tag.") {
			keyedAttrs = append(keyedAttrs, attr)
		}
	}
	sort.Strings(keyedAttrs)

	for _, attr := range keyedAttrs {
		v := attrs[attr]
		key := strings.TrimPrefix(attr, "tag.")
		if !validTagKey(key) {
			return nil, fmt.Errorf("tag key %q must be printable ASCII 0x20-0x7E, excluding '='", key)
		}
		if len(key)+len(v)+1 > 255 {
			return nil, fmt.Errorf("tag %q=%q exceeds 255 octets including '='", key, v)
		}
		tags = append(tags, Tag{Key: key, Value: v})
	}

	if boolList, ok := attrs["tags"]; ok {
		for _, key := range strings.Split(boolList, "\n") {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if !validTagKey(key) {
				return nil, fmt.Errorf("boolean tag %q must be printable ASCII 0x20-0x7E, excluding '='", key)
			}
			if len(key)+1 > 255 {
				return nil, fmt.Errorf("boolean tag %q exceeds 255 octets", key)
			}
			tags = append(tags, Tag{Key: key, IsBoolean: true})
		}
	}

	SortTags(tags)
	return tags, nil
}

// SortTags orders tags so that a txtvers key, if present, sorts first;
// all other keys are left in the order they arrived in (parseTags builds
// that order from sorted attribute keys, so it is already deterministic).
func SortTags(tags []Tag) {
	sort.SliceStable(tags, func(i, j int) bool {
		return tags[i].Key == "txtvers" && tags[j].Key != "txtvers"
	})
}

// TXTStrings renders tags into the ordered "key=value" (or bare key for
// boolean tags) strings NewTXT expects.
func TXTStrings(tags []Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.IsBoolean {
			out = append(out, t.Key)
			continue
		}
		out = append(out, t.Key+"="+t.Value)
	}
	return out
}

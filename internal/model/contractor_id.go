package model

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// DiscoveredPrefix marks contractor keys minted for entities found outside the registry.
// Registry UEIs are 12 alphanumeric characters and never contain a hyphen.
const DiscoveredPrefix = "EXT-"

// IDKind distinguishes registry identities from synthetic ones.
type IDKind int

const (
	// KindUnknown is the zero value.
	KindUnknown IDKind = iota
	// KindRegistered is a registry-assigned UEI.
	KindRegistered
	// KindDiscovered is a synthetic identifier for a web-discovered entity.
	KindDiscovered
)

// String returns the kind name.
func (k IDKind) String() string {
	switch k {
	case KindRegistered:
		return "registered"
	case KindDiscovered:
		return "discovered"
	default:
		return "unknown"
	}
}

// ContractorID is the identity of a contractor: either Registered{uei} or
// Discovered{syntheticID}. Construct it with RegisteredID, DiscoveredID or
// ParseContractorID; the zero value is invalid.
type ContractorID struct {
	kind IDKind
	key  string
}

// RegisteredID wraps a registry UEI. The UEI is trimmed and upper-cased.
func RegisteredID(uei string) (ContractorID, error) {
	uei = strings.ToUpper(strings.TrimSpace(uei))
	if uei == "" {
		return ContractorID{}, eris.New("model: empty uei")
	}
	if strings.HasPrefix(uei, DiscoveredPrefix) {
		return ContractorID{}, eris.Errorf("model: uei %q uses the discovered prefix", uei)
	}
	return ContractorID{kind: KindRegistered, key: uei}, nil
}

// DiscoveredID derives a stable synthetic identifier from a web domain.
// The same domain always yields the same identifier.
func DiscoveredID(domain string) ContractorID {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "www.")

	var label strings.Builder
	for _, r := range strings.ToUpper(domain) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			label.WriteRune(r)
		}
		if label.Len() == 8 {
			break
		}
	}
	if label.Len() == 0 {
		label.WriteString("WEB")
	}

	sum := uuid.NewSHA1(uuid.NameSpaceURL, []byte(domain)).String()
	return ContractorID{
		kind: KindDiscovered,
		key:  DiscoveredPrefix + label.String() + "-" + strings.ToUpper(sum[:8]),
	}
}

// ParseContractorID recovers an identity from its stored key.
func ParseContractorID(key string) (ContractorID, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(strings.ToUpper(key), DiscoveredPrefix) {
		if len(key) == len(DiscoveredPrefix) {
			return ContractorID{}, eris.Errorf("model: malformed discovered id %q", key)
		}
		return ContractorID{kind: KindDiscovered, key: strings.ToUpper(key)}, nil
	}
	return RegisteredID(key)
}

// Kind reports which variant the identity is.
func (id ContractorID) Kind() IDKind { return id.kind }

// Key returns the value stored in the uei column.
func (id ContractorID) Key() string { return id.key }

// IsZero reports whether the identity is unset.
func (id ContractorID) IsZero() bool { return id.kind == KindUnknown }

// IsRegistered reports whether the identity came from the registry.
func (id ContractorID) IsRegistered() bool { return id.kind == KindRegistered }

func (id ContractorID) String() string { return id.key }

// MarshalJSON encodes the identity as its key.
func (id ContractorID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.key)
}

// UnmarshalJSON decodes a key produced by MarshalJSON.
func (id *ContractorID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(err, "model: decode contractor id")
	}
	if s == "" {
		*id = ContractorID{}
		return nil
	}
	parsed, err := ParseContractorID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

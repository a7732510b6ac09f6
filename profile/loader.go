package profile

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/passthru"
)

// HexBytes accepts either a hex string ("22 F1 90") or a list of integers.
type HexBytes []byte

func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		b, err := driver.ParseHex(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*h = b
		return nil
	case yaml.SequenceNode:
		var ints []int
		if err := value.Decode(&ints); err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 0xFF {
				return fmt.Errorf("line %d: %d is not a byte", value.Line, v)
			}
			b[i] = byte(v)
		}
		*h = b
		return nil
	}
	return fmt.Errorf("line %d: expected hex string or byte list", value.Line)
}

func (h HexBytes) MarshalYAML() (any, error) {
	return strings.ToUpper(fmt.Sprintf("% x", []byte(h))), nil
}

type sciDoc struct {
	T1Max uint32 `yaml:"t1_max,omitempty"`
	T2Max uint32 `yaml:"t2_max,omitempty"`
	T4Max uint32 `yaml:"t4_max,omitempty"`
	T5Max uint32 `yaml:"t5_max,omitempty"`
}

type profileDoc struct {
	Key          string   `yaml:"key"`
	Name         string   `yaml:"name"`
	Protocol     string   `yaml:"protocol"`
	BaudRate     uint32   `yaml:"baud_rate"`
	ConnectFlags uint32   `yaml:"connect_flags,omitempty"`
	TxFlags      uint32   `yaml:"tx_flags,omitempty"`
	TxID         uint32   `yaml:"tx_id,omitempty"`
	RxID         uint32   `yaml:"rx_id,omitempty"`
	Mask         uint32   `yaml:"mask,omitempty"`
	Check        HexBytes `yaml:"check"`
	TxTimeoutMs  uint32   `yaml:"tx_timeout_ms,omitempty"`
	RxTimeoutMs  uint32   `yaml:"rx_timeout_ms,omitempty"`
	SCI          *sciDoc  `yaml:"sci,omitempty"`
}

type catalogDoc struct {
	Profiles []profileDoc `yaml:"profiles"`
}

func (d profileDoc) profile() (Profile, error) {
	protocol, err := passthru.ParseProtocol(d.Protocol)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", d.Key, err)
	}
	p := Profile{
		Key:                d.Key,
		Name:               d.Name,
		Protocol:           protocol,
		BaudRate:           d.BaudRate,
		ConnectFlags:       passthru.ConnectFlag(d.ConnectFlags),
		TxFlags:            d.TxFlags,
		TxIdentifier:       d.TxID,
		RxIdentifier:       d.RxID,
		Mask:               d.Mask,
		CommunicationCheck: []byte(d.Check),
		TxTimeout:          time.Duration(d.TxTimeoutMs) * time.Millisecond,
		RxTimeout:          time.Duration(d.RxTimeoutMs) * time.Millisecond,
	}
	if d.SCI != nil {
		p.SCI = SCITiming{T1Max: d.SCI.T1Max, T2Max: d.SCI.T2Max, T4Max: d.SCI.T4Max, T5Max: d.SCI.T5Max}
	}
	if p.Name == "" {
		p.Name = p.Key
	}
	return p, p.Validate()
}

func toDoc(p Profile) profileDoc {
	d := profileDoc{
		Key:          p.Key,
		Name:         p.Name,
		Protocol:     p.Protocol.String(),
		BaudRate:     p.BaudRate,
		ConnectFlags: uint32(p.ConnectFlags),
		TxFlags:      p.TxFlags,
		TxID:         p.TxIdentifier,
		RxID:         p.RxIdentifier,
		Mask:         p.Mask,
		Check:        HexBytes(p.CommunicationCheck),
		TxTimeoutMs:  uint32(p.TxTimeout / time.Millisecond),
		RxTimeoutMs:  uint32(p.RxTimeout / time.Millisecond),
	}
	if p.SCI != (SCITiming{}) {
		d.SCI = &sciDoc{T1Max: p.SCI.T1Max, T2Max: p.SCI.T2Max, T4Max: p.SCI.T4Max, T5Max: p.SCI.T5Max}
	}
	return d
}

// Parse decodes a YAML profile catalog.
func Parse(data []byte) ([]Profile, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("parsing profiles: no profiles defined")
	}

	seen := make(map[string]bool, len(doc.Profiles))
	out := make([]Profile, 0, len(doc.Profiles))
	for _, d := range doc.Profiles {
		p, err := d.profile()
		if err != nil {
			return nil, err
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("profile %s: duplicate key", p.Key)
		}
		seen[p.Key] = true
		out = append(out, p)
	}
	return out, nil
}

// Load reads and parses a YAML profile catalog from path.
func Load(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes profiles in the format Parse reads.
func Marshal(profiles []Profile) ([]byte, error) {
	doc := catalogDoc{Profiles: make([]profileDoc, len(profiles))}
	for i, p := range profiles {
		doc.Profiles[i] = toDoc(p)
	}
	return yaml.Marshal(&doc)
}

package band

import (
	"strings"

	"github.com/srg/mioband/internal/bledb"
)

// Capability is a bit set of the operations a characteristic advertises.
type Capability uint8

const (
	Readable Capability = 1 << iota
	Writable
	WritableWithoutResponse
	Notifiable
	Indicatable
)

// Has reports whether every bit of c2 is set in c.
func (c Capability) Has(c2 Capability) bool {
	return c&c2 == c2
}

func (c Capability) String() string {
	var parts []string
	if c.Has(Readable) {
		parts = append(parts, "read")
	}
	if c.Has(Writable) {
		parts = append(parts, "write")
	}
	if c.Has(WritableWithoutResponse) {
		parts = append(parts, "write-without-response")
	}
	if c.Has(Notifiable) {
		parts = append(parts, "notify")
	}
	if c.Has(Indicatable) {
		parts = append(parts, "indicate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// CharacteristicInfo is the raw tuple an adapter reports for one discovered characteristic.
type CharacteristicInfo struct {
	Service      string
	UUID         string
	Capabilities Capability
	Value        []byte // cached value at discovery time, usually nil
}

// Characteristic is a classified characteristic. It is immutable once created.
type Characteristic struct {
	service      string
	uuid         string
	capabilities Capability
	tag          Tag
}

func newCharacteristic(info CharacteristicInfo) *Characteristic {
	return &Characteristic{
		service:      CanonicalUUID(info.Service),
		uuid:         CanonicalUUID(info.UUID),
		capabilities: info.Capabilities,
		tag:          Classify(info.UUID),
	}
}

func (c *Characteristic) Service() string          { return c.service }
func (c *Characteristic) UUID() string             { return c.uuid }
func (c *Characteristic) Capabilities() Capability { return c.capabilities }
func (c *Characteristic) Tag() Tag                 { return c.tag }
func (c *Characteristic) Name() string             { return bledb.LookupCharacteristic(c.uuid) }
func (c *Characteristic) ServiceName() string      { return bledb.LookupService(c.service) }
func (c *Characteristic) Ref() Ref                 { return Ref{Service: c.service, UUID: c.uuid} }
func (c *Characteristic) IsKnown() bool            { return c.tag != Unknown }

// Ref addresses a characteristic handle on the connected device.
type Ref struct {
	Service string
	UUID    string
}

func (r Ref) String() string {
	return r.Service + "/" + r.UUID
}

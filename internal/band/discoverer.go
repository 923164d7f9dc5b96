package band

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Discoverer classifies the characteristics reported for each service of a connected
// device and keeps them in discovery order. A Discoverer belongs to one connection.
type Discoverer struct {
	registry *orderedmap.OrderedMap[string, *Characteristic]
	services int
}

// NewDiscoverer returns an empty registry.
func NewDiscoverer() *Discoverer {
	return &Discoverer{registry: orderedmap.New[string, *Characteristic]()}
}

// Classified is one entry of a classification report. New is false when the
// identifier was already classified by an earlier report on this connection.
type Classified struct {
	*Characteristic
	New bool
}

// Classify produces classified records for one service's characteristics, in
// report order. An identifier that was already classified keeps its original record.
func (d *Discoverer) Classify(service string, infos []CharacteristicInfo) []Classified {
	d.services++
	result := make([]Classified, 0, len(infos))
	for _, info := range infos {
		if info.Service == "" {
			info.Service = service
		}
		key := CanonicalUUID(info.UUID)
		if existing, ok := d.registry.Get(key); ok {
			result = append(result, Classified{Characteristic: existing})
			continue
		}
		char := newCharacteristic(info)
		d.registry.Set(key, char)
		result = append(result, Classified{Characteristic: char, New: true})
	}
	return result
}

// Lookup finds a classified characteristic by identifier.
func (d *Discoverer) Lookup(uuid string) (*Characteristic, bool) {
	return d.registry.Get(CanonicalUUID(uuid))
}

// Characteristics returns every classified characteristic in discovery order.
func (d *Discoverer) Characteristics() []*Characteristic {
	result := make([]*Characteristic, 0, d.registry.Len())
	for pair := d.registry.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Len returns the number of classified characteristics.
func (d *Discoverer) Len() int {
	return d.registry.Len()
}

// Services returns how many service reports have been classified.
func (d *Discoverer) Services() int {
	return d.services
}

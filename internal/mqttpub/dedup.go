package mqttpub

import "github.com/GifariKemal/iiot-gateway-core/internal/model"

// dedupSet collapses a batch of Measurement Points to one entry per
// register_id, last value wins, per spec.md §4.6/§8 property 3. Key order
// reflects first occurrence so published batches stay deterministic.
type dedupSet struct {
	order  []string
	values map[string]model.MeasurementPoint
}

func newDedupSet(points []model.MeasurementPoint) *dedupSet {
	d := &dedupSet{values: make(map[string]model.MeasurementPoint, len(points))}
	for _, p := range points {
		key := p.DedupKey()
		if _, ok := d.values[key]; !ok {
			d.order = append(d.order, key)
		}
		d.values[key] = p
	}
	return d
}

// all returns the deduplicated points in first-seen order.
func (d *dedupSet) all() []model.MeasurementPoint {
	out := make([]model.MeasurementPoint, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.values[k])
	}
	return out
}

package signal

// MomentumModel is a minimal reference Model: it scores a tick off
// (mid - reference) divided by a fixed price scale, centred on 0.5 and
// clamped into [0,1]. Real deployments plug in an externally trained model through the
// same Model interface; this implementation exists so the executor binary
// has something concrete to wire and exercise in integration tests.
type MomentumModel struct {
	// PriceScale bounds how far from the reference price counts as full
	// confidence in either direction.
	PriceScale float64
}

// Predict implements Model.
func (m MomentumModel) Predict(features Features) float64 {
	if len(features) < 2 || m.PriceScale <= 0 {
		return 0.5
	}
	mid, reference := features[0], features[1]
	delta := (mid - reference) / m.PriceScale
	return clamp01(0.5 + delta)
}

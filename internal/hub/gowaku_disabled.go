//go:build !real_waku

package hub

// newGoWakuBackend returns nil when the go-waku backend is compiled out;
// Start reports the unavailable transport to the caller.
func newGoWakuBackend() relayBackend {
	return nil
}

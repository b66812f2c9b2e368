package types

// EpochID identifies a protocol epoch on this chain. Epochs gate which
// broadcast paths the signer uses for its DKG vote transactions.
type EpochID uint32

// Protocol epochs, in activation order.
const (
	Epoch24 EpochID = 24
	Epoch25 EpochID = 25
	Epoch30 EpochID = 30
)

// String returns the human-readable epoch name.
func (e EpochID) String() string {
	switch e {
	case Epoch24:
		return "2.4"
	case Epoch25:
		return "2.5"
	case Epoch30:
		return "3.0"
	default:
		return "unknown"
	}
}

package alkaneid

// HolderKind discriminates the two members of the Holder sum type.
type HolderKind uint8

const (
	// HolderAddress is a plain Bitcoin address holder.
	HolderAddress HolderKind = iota
	// HolderAlkane is an alkane-owned (contract-owned) holder.
	HolderAlkane
)

// Holder is the sum type Address(string) | Alkane(AlkaneId). Addresses
// order before alkanes; alkanes order lexicographically among
// themselves.
type Holder struct {
	Kind    HolderKind
	Address string
	Alkane  ID
}

// NewAddressHolder builds an address holder.
func NewAddressHolder(address string) Holder {
	return Holder{Kind: HolderAddress, Address: address}
}

// NewAlkaneHolder builds an alkane holder.
func NewAlkaneHolder(id ID) Holder {
	return Holder{Kind: HolderAlkane, Alkane: id}
}

// Less implements the total order: addresses < alkanes; alkanes ordered
// lexicographically; addresses ordered lexicographically by string.
func (h Holder) Less(other Holder) bool {
	if h.Kind != other.Kind {
		return h.Kind < other.Kind
	}
	if h.Kind == HolderAddress {
		return h.Address < other.Address
	}
	return h.Alkane.Less(other.Alkane)
}

// Equal reports whether h and other denote the same holder.
func (h Holder) Equal(other Holder) bool {
	if h.Kind != other.Kind {
		return false
	}
	if h.Kind == HolderAddress {
		return h.Address == other.Address
	}
	return h.Alkane.Equal(other.Alkane)
}

// OrderKey returns a byte-comparable key usable as the secondary sort key
// within a holder vector (ascending by holder order key): a single
// discriminant byte followed by the address bytes or the alkane's
// storage bytes.
func (h Holder) OrderKey() []byte {
	if h.Kind == HolderAddress {
		return append([]byte{0x00}, []byte(h.Address)...)
	}
	sb := h.Alkane.StorageBytes()
	return append([]byte{0x01}, sb[:]...)
}

// String renders the holder for logging/debugging.
func (h Holder) String() string {
	if h.Kind == HolderAddress {
		return h.Address
	}
	return h.Alkane.String()
}

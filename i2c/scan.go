package i2c

import "context"

// Default probe window of an address scan, leaving out the reserved
// blocks at both ends of the 7-bit space.
const (
	ScanFirst = 0x08
	ScanLast  = 0x77
)

// Scan probes every 7-bit address in [first, last] with a zero-length
// write and returns the addresses that acknowledged. A missing
// acknowledge means nobody home and the scan moves on; any other fault
// aborts it.
func Scan(ctx context.Context, bus Bus, first, last uint8) ([]Addr, error) {
	var found []Addr
	for v := first; v <= last && v <= 0x7F; v++ {
		addr := Addr7(v)
		err := bus.Write(ctx, addr, nil)
		switch {
		case err == nil:
			found = append(found, addr)
		case KindOf(err) == KindNoAck:
		default:
			return found, err
		}
	}
	return found, nil
}

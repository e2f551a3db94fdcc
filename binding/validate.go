package binding

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnavailable  = errors.New("binding table unavailable")
	ErrBadMagic     = errors.New("bad magic")
	ErrTooManyItems = errors.New("too many items")
	ErrTruncated    = errors.New("truncated")
	ErrInvalid      = errors.New("invalid binding")
)

// VirtualIndex returns N for a virtual interface named ipsec<N>.
func VirtualIndex(name string) (int, error) {
	suffix, ok := strings.CutPrefix(name, VirtualPrefix)
	if !ok {
		return 0, fmt.Errorf("%q does not start with %q", name, VirtualPrefix)
	}
	if suffix == "" || strings.IndexFunc(suffix, func(c rune) bool { return c < '0' || c > '9' }) >= 0 {
		return 0, fmt.Errorf("%q has no numeric suffix", name)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("%q has no numeric suffix", name)
	}
	if n < 0 || n >= MaxBound {
		return 0, fmt.Errorf("%q: index %d out of range [0, %d)", name, n, MaxBound)
	}
	return n, nil
}

// ValidateRecord checks a single record.
func ValidateRecord(r Record) error {
	if len(r.VirtualIf) >= IfNameSize {
		return fmt.Errorf("virtual interface name %q too long (max %d)", r.VirtualIf, IfNameSize-1)
	}
	if _, err := VirtualIndex(r.VirtualIf); err != nil {
		return err
	}
	if r.PhysicalIf == "" {
		return errors.New("physical interface name is empty")
	}
	if len(r.PhysicalIf) >= IfNameSize {
		return fmt.Errorf("physical interface name %q too long (max %d)", r.PhysicalIf, IfNameSize-1)
	}
	if r.Priority >= MaxBound {
		return fmt.Errorf("priority %d out of range [0, %d)", r.Priority, MaxBound)
	}
	return nil
}

// Validate checks every record of s. Any failure rejects the whole table.
func Validate(s *Snapshot) error {
	if s.Header.ItemCount > MaxBound || len(s.Records) > MaxBound {
		return fmt.Errorf("%w: %d", ErrTooManyItems, len(s.Records))
	}
	var seen [MaxBound]bool
	for i, r := range s.Records {
		err := ValidateRecord(r)
		if err != nil {
			return fmt.Errorf("%w: record %d: %w", ErrInvalid, i, err)
		}
		if seen[r.Priority] {
			return fmt.Errorf("%w: record %d: duplicate priority %d", ErrInvalid, i, r.Priority)
		}
		seen[r.Priority] = true
	}
	return nil
}

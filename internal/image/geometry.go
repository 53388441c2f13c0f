package image

// ValidateGeometry checks that sections are non-empty and that each write
// address lies strictly past the last byte of the section before it.
//
// Gaps between sections are allowed. The running bound starts at -1 so the
// first section may be written at address 0, and a zero-length payload leaves
// the bound at its own address minus one. Addresses are compared as int64 so
// nothing wraps.
func ValidateGeometry(sections []Section) error {
	if len(sections) == 0 {
		return &EmptyImageError{}
	}

	bound := int64(-1)
	for i, s := range sections {
		addr := int64(s.WriteAddress)
		if addr <= bound {
			return &OverlapError{
				Index:       i + 1,
				Address:     s.WriteAddress,
				PreviousEnd: bound,
			}
		}
		bound = addr + int64(len(s.Payload)) - 1
	}

	return nil
}

package int13

// INT 13 status codes. Handlers return an int status: non-negative
// values are placed in AH with carry clear, negative values are negated
// into AH with carry left set. The dispatcher is the only place that
// performs the conversion.
const (
	StatusInvalid     = 0x01
	StatusReadError   = 0x04
	StatusResetFailed = 0x05
	StatusNoMedia     = 0xaa
)

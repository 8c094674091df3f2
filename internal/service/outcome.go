package service

// Outcome is the result of a redemption attempt. The numeric values are part
// of the wire contract and must not be reordered.
type Outcome byte

const (
	Success Outcome = iota
	Failure
	AlreadyUsed
	Expired
	Inactive
	Deleted
	Exception
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case AlreadyUsed:
		return "AlreadyUsed"
	case Expired:
		return "Expired"
	case Inactive:
		return "Inactive"
	case Deleted:
		return "Deleted"
	case Exception:
		return "Exception"
	default:
		return "Unknown"
	}
}

// Message is the text shown to the person redeeming the code.
func (o Outcome) Message() string {
	switch o {
	case Success:
		return "Code used successfully."
	case Failure:
		return "Code not found."
	case AlreadyUsed:
		return "This code has already been used."
	case Expired:
		return "This code is expired."
	case Inactive:
		return "This code is inactive."
	case Deleted:
		return "This code has been deleted."
	default:
		return "An unexpected error occurred."
	}
}

package ebms

// Error is one ebMS error entry carried by an Error signal or recorded on
// an exception row.
type Error struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
	Detail           string
}

// Predefined ebMS error codes used by the reliability engine.
var (
	ErrorDeliveryFailure = Error{
		Code:             "EBMS:0202",
		Severity:         "Failure",
		ShortDescription: "DeliveryFailure",
		Category:         "Communication",
	}

	ErrorMissingReceipt = Error{
		Code:             "EBMS:0301",
		Severity:         "Failure",
		ShortDescription: "MissingReceipt",
		Category:         "Communication",
	}

	ErrorOther = Error{
		Code:             "EBMS:0004",
		Severity:         "Failure",
		ShortDescription: "Other",
		Category:         "Content",
	}

	ErrorEmptyMessagePartition = Error{
		Code:             "EBMS:0006",
		Severity:         "Warning",
		ShortDescription: "EmptyMessagePartitionChannel",
		Category:         "Communication",
	}
)

// WithDetail returns a copy of the error carrying a free-text detail.
func (e Error) WithDetail(detail string) Error {
	e.Detail = detail
	return e
}

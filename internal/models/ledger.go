package models

var conversionTransitions = map[ConversionStatus][]ConversionStatus{
	ConversionStatusPending:   {ConversionStatusConfirmed, ConversionStatusFailed, ConversionStatusRefunded},
	ConversionStatusConfirmed: {ConversionStatusRefunded},
}

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionStatusPending:  {CommissionStatusApproved, CommissionStatusReversed},
	CommissionStatusApproved: {CommissionStatusPaid, CommissionStatusReversed},
}

// CanTransition reports whether a conversion may move from one status to
// another. failed and refunded are terminal.
func (s ConversionStatus) CanTransition(to ConversionStatus) bool {
	for _, next := range conversionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether a commission may move from one status to
// another. paid and reversed are terminal.
func (s CommissionStatus) CanTransition(to CommissionStatus) bool {
	for _, next := range commissionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ConversionSourcesFor lists the statuses a conversion may leave to reach to.
// Stores use it to build their conditional updates.
func ConversionSourcesFor(to ConversionStatus) []ConversionStatus {
	var out []ConversionStatus
	for _, from := range []ConversionStatus{ConversionStatusPending, ConversionStatusConfirmed, ConversionStatusFailed, ConversionStatusRefunded} {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}

// CommissionSourcesFor lists the statuses a commission may leave to reach to.
func CommissionSourcesFor(to CommissionStatus) []CommissionStatus {
	var out []CommissionStatus
	for _, from := range []CommissionStatus{CommissionStatusPending, CommissionStatusApproved, CommissionStatusPaid, CommissionStatusReversed} {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}

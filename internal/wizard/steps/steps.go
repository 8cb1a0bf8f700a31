// Package steps defines the wizard's step graph: which fields each step owns
// and how the next step is derived from the collected answers.
package steps

import "letter-wizard/internal/wizard/fields"

// Route identifies a wizard step.
type Route string

const (
	RouteReason          Route = "reason"
	RouteRentIncrease    Route = "rent-increase"
	RouteNonRenewal      Route = "non-renewal"
	RouteAllowedIncrease Route = "allowed-increase"
	RouteGoodCauseGiven  Route = "good-cause-given"
	RouteUserDetails     Route = "user-details"
	RouteUserAddress     Route = "user-address"
	RouteLandlordDetails Route = "landlord-details"
	RouteLandlordAddress Route = "landlord-address"
	RouteSendOptions     Route = "send-options"
	RouteConfirmation    Route = "confirmation"

	// RouteUndetermined means a branching answer is still unset.
	RouteUndetermined Route = "undetermined"
	// RouteNone means the step has no forward transition.
	RouteNone Route = "none"
)

// Definition describes one step: the field paths it owns, which are validated
// on advance and cleared on retreat, and the progress shown while on it.
type Definition struct {
	Route    Route
	Fields   []string
	Progress int
}

var definitions = map[Route]Definition{
	RouteReason: {
		Route:    RouteReason,
		Fields:   []string{fields.PathReason},
		Progress: 5,
	},
	RouteRentIncrease: {
		Route:    RouteRentIncrease,
		Fields:   []string{fields.PathUnreasonableIncrease},
		Progress: 15,
	},
	RouteNonRenewal: {
		Route:    RouteNonRenewal,
		Fields:   []string{fields.PathGoodCauseGiven},
		Progress: 15,
	},
	RouteAllowedIncrease: {
		Route:    RouteAllowedIncrease,
		Fields:   nil, // informational, nothing collected
		Progress: 15,
	},
	RouteGoodCauseGiven: {
		Route:    RouteGoodCauseGiven,
		Fields:   nil, // informational, nothing collected
		Progress: 15,
	},
	RouteUserDetails: {
		Route: RouteUserDetails,
		Fields: []string{
			fields.PathUserFirstName,
			fields.PathUserLastName,
			fields.PathUserPhone,
			fields.PathUserEmail,
			fields.PathUserBBL,
		},
		Progress: 35,
	},
	RouteUserAddress: {
		Route: RouteUserAddress,
		Fields: []string{
			fields.PathUserAddrPrimary,
			fields.PathUserAddrSecondary,
			fields.PathUserAddrCity,
			fields.PathUserAddrState,
			fields.PathUserAddrZip,
			fields.PathUserAddrNoUnit,
		},
		Progress: 50,
	},
	RouteLandlordDetails: {
		Route: RouteLandlordDetails,
		Fields: []string{
			fields.PathLandlordName,
			fields.PathLandlordEmail,
		},
		Progress: 65,
	},
	RouteLandlordAddress: {
		Route: RouteLandlordAddress,
		Fields: []string{
			fields.PathLandlordAddrPrimary,
			fields.PathLandlordAddrSecondary,
			fields.PathLandlordAddrCity,
			fields.PathLandlordAddrState,
			fields.PathLandlordAddrZip,
			fields.PathLandlordAddrNoUnit,
		},
		Progress: 80,
	},
	RouteSendOptions: {
		Route: RouteSendOptions,
		Fields: []string{
			fields.PathMailChoice,
			fields.PathExtraEmails,
			fields.PathCCUser,
		},
		Progress: 90,
	},
	RouteConfirmation: {
		Route:    RouteConfirmation,
		Fields:   nil,
		Progress: 100,
	},
}

// Entry returns the first step of the flow.
func Entry() Route {
	return RouteReason
}

// Lookup returns the definition for a route.
func Lookup(route Route) (Definition, bool) {
	def, ok := definitions[route]
	return def, ok
}

// IsTerminal reports whether the flow ends at this step.
func IsTerminal(route Route) bool {
	return route == RouteConfirmation
}

// IsDeadEnd reports whether the step stops the flow without a letter. The
// tenant can still retreat from it.
func IsDeadEnd(route Route) bool {
	return route == RouteAllowedIncrease || route == RouteGoodCauseGiven
}

// ResolveNext derives the successor of a step from the collected answers. It
// is a pure function: same route and record always yield the same result.
// RouteUndetermined is returned while a branching answer is unset, and
// RouteNone for steps with no forward transition.
func ResolveNext(route Route, f *fields.FormFields) Route {
	switch route {
	case RouteReason:
		switch f.Reason {
		case fields.ReasonPlannedIncrease:
			return RouteRentIncrease
		case fields.ReasonNonRenewal:
			return RouteNonRenewal
		default:
			return RouteUndetermined
		}

	case RouteRentIncrease:
		if f.PlannedIncrease == nil || f.PlannedIncrease.UnreasonableIncrease == nil {
			return RouteUndetermined
		}
		if *f.PlannedIncrease.UnreasonableIncrease {
			return RouteUserDetails
		}
		return RouteAllowedIncrease

	case RouteNonRenewal:
		if f.NonRenewal == nil || f.NonRenewal.GoodCauseGiven == nil {
			return RouteUndetermined
		}
		if *f.NonRenewal.GoodCauseGiven {
			return RouteGoodCauseGiven
		}
		return RouteUserDetails

	case RouteAllowedIncrease, RouteGoodCauseGiven:
		return RouteNone

	case RouteUserDetails:
		return RouteUserAddress
	case RouteUserAddress:
		return RouteLandlordDetails
	case RouteLandlordDetails:
		return RouteLandlordAddress
	case RouteLandlordAddress:
		return RouteSendOptions
	case RouteSendOptions:
		return RouteConfirmation

	case RouteConfirmation:
		return RouteNone

	default:
		return RouteNone
	}
}

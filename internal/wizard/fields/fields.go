// Package fields holds the single mutable record the letter wizard operates
// over. The record is a tagged union on the Reason discriminator: exactly one
// of the branch sub-records is populated for a session.
package fields

import "strings"

// Reason selects which letter-content and field-requirement variant is active
// for the whole wizard session.
type Reason string

const (
	ReasonPlannedIncrease Reason = "PLANNED_INCREASE"
	ReasonNonRenewal      Reason = "NON_RENEWAL"
)

// MailChoice selects who physically mails the finished letter.
type MailChoice string

const (
	MailChoiceWeMail   MailChoice = "WE_WILL_MAIL"
	MailChoiceUserMail MailChoice = "USER_WILL_MAIL"
)

// MailingAddress is a US mailing address. Invariant: either SecondaryLine is
// set and NoUnit is false, or SecondaryLine is empty and NoUnit is true.
type MailingAddress struct {
	PrimaryLine   string `json:"primary_line"`
	SecondaryLine string `json:"secondary_line,omitempty"`
	Urbanization  string `json:"urbanization,omitempty"`
	City          string `json:"city"`
	State         string `json:"state"`
	Zip           string `json:"zip"`
	NoUnit        bool   `json:"no_unit"`
}

// IsEmpty reports whether no address component has been entered.
func (a MailingAddress) IsEmpty() bool {
	return a.PrimaryLine == "" && a.SecondaryLine == "" && a.City == "" &&
		a.State == "" && a.Zip == ""
}

// OneLine renders the address as a single display line.
func (a MailingAddress) OneLine() string {
	parts := []string{}
	for _, p := range []string{a.PrimaryLine, a.SecondaryLine, a.City, a.State, a.Zip} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

// UserDetails holds the tenant's contact information and building identifier.
type UserDetails struct {
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Phone     string         `json:"phone"`
	Email     string         `json:"email"`
	Address   MailingAddress `json:"address"`
	BBL       string         `json:"bbl"` // borough-block-lot building identifier
}

// FullName returns the tenant's display name.
func (u UserDetails) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LandlordDetails holds the landlord's contact information. Email is optional.
type LandlordDetails struct {
	Name    string         `json:"name"`
	Email   string         `json:"email,omitempty"`
	Address MailingAddress `json:"address"`
}

// PlannedIncreaseFields exist only when Reason is PLANNED_INCREASE.
type PlannedIncreaseFields struct {
	// UnreasonableIncrease is tri-state: nil until the tenant answers.
	UnreasonableIncrease *bool `json:"unreasonable_increase,omitempty"`
}

// NonRenewalFields exist only when Reason is NON_RENEWAL.
type NonRenewalFields struct {
	// GoodCauseGiven is tri-state: nil until the tenant answers.
	GoodCauseGiven *bool `json:"good_cause_given,omitempty"`
}

// FormFields is the wizard's single source of truth for collected values.
type FormFields struct {
	Reason          Reason                 `json:"reason,omitempty"`
	PlannedIncrease *PlannedIncreaseFields `json:"planned_increase,omitempty"`
	NonRenewal      *NonRenewalFields      `json:"non_renewal,omitempty"`
	User            UserDetails            `json:"user_details"`
	Landlord        LandlordDetails        `json:"landlord_details"`
	MailChoice      MailChoice             `json:"mail_choice,omitempty"`
	ExtraEmails     []string               `json:"extra_emails,omitempty"`
	CCUser          bool                   `json:"cc_user"`
}

// SetReason switches the active branch, initialising its sub-record and
// discarding the other branch's answers.
func (f *FormFields) SetReason(r Reason) {
	f.Reason = r
	switch r {
	case ReasonPlannedIncrease:
		if f.PlannedIncrease == nil {
			f.PlannedIncrease = &PlannedIncreaseFields{}
		}
		f.NonRenewal = nil
	case ReasonNonRenewal:
		if f.NonRenewal == nil {
			f.NonRenewal = &NonRenewalFields{}
		}
		f.PlannedIncrease = nil
	default:
		f.PlannedIncrease = nil
		f.NonRenewal = nil
	}
}

// Dotted field paths used by the step graph and the schema model.
const (
	PathReason = "reason"

	PathUnreasonableIncrease = "planned_increase.unreasonable_increase"
	PathGoodCauseGiven       = "non_renewal.good_cause_given"

	PathUserFirstName = "user_details.first_name"
	PathUserLastName  = "user_details.last_name"
	PathUserPhone     = "user_details.phone"
	PathUserEmail     = "user_details.email"
	PathUserBBL       = "user_details.bbl"

	PathUserAddrPrimary   = "user_details.address.primary_line"
	PathUserAddrSecondary = "user_details.address.secondary_line"
	PathUserAddrCity      = "user_details.address.city"
	PathUserAddrState     = "user_details.address.state"
	PathUserAddrZip       = "user_details.address.zip"
	PathUserAddrNoUnit    = "user_details.address.no_unit"

	PathLandlordName  = "landlord_details.name"
	PathLandlordEmail = "landlord_details.email"

	PathLandlordAddrPrimary   = "landlord_details.address.primary_line"
	PathLandlordAddrSecondary = "landlord_details.address.secondary_line"
	PathLandlordAddrCity      = "landlord_details.address.city"
	PathLandlordAddrState     = "landlord_details.address.state"
	PathLandlordAddrZip       = "landlord_details.address.zip"
	PathLandlordAddrNoUnit    = "landlord_details.address.no_unit"

	PathMailChoice  = "mail_choice"
	PathExtraEmails = "extra_emails"
	PathCCUser      = "cc_user"
)

// addressMap flattens a MailingAddress for schema validation.
func addressMap(a MailingAddress) map[string]interface{} {
	m := map[string]interface{}{
		"primary_line": a.PrimaryLine,
		"city":         a.City,
		"state":        a.State,
		"zip":          a.Zip,
		"no_unit":      a.NoUnit,
	}
	if a.SecondaryLine != "" {
		m["secondary_line"] = a.SecondaryLine
	}
	if a.Urbanization != "" {
		m["urbanization"] = a.Urbanization
	}
	return m
}

// AddressMap exposes the flattened form of a MailingAddress so callers can
// re-validate an address sub-record in isolation.
func AddressMap(a MailingAddress) map[string]interface{} {
	return addressMap(a)
}

// Flatten converts the record into nested maps keyed by the dotted path
// segments above. Unset tri-state answers are omitted so required-field
// checks report them as missing.
func (f *FormFields) Flatten() map[string]interface{} {
	m := map[string]interface{}{
		"user_details": map[string]interface{}{
			"first_name": f.User.FirstName,
			"last_name":  f.User.LastName,
			"phone":      f.User.Phone,
			"email":      f.User.Email,
			"bbl":        f.User.BBL,
			"address":    addressMap(f.User.Address),
		},
		"landlord_details": map[string]interface{}{
			"name":    f.Landlord.Name,
			"email":   f.Landlord.Email,
			"address": addressMap(f.Landlord.Address),
		},
		"cc_user": f.CCUser,
	}

	if f.Reason != "" {
		m["reason"] = string(f.Reason)
	}
	if f.MailChoice != "" {
		m["mail_choice"] = string(f.MailChoice)
	}
	if len(f.ExtraEmails) > 0 {
		emails := make([]interface{}, len(f.ExtraEmails))
		for i, e := range f.ExtraEmails {
			emails[i] = e
		}
		m["extra_emails"] = emails
	}

	if f.PlannedIncrease != nil {
		branch := map[string]interface{}{}
		if f.PlannedIncrease.UnreasonableIncrease != nil {
			branch["unreasonable_increase"] = *f.PlannedIncrease.UnreasonableIncrease
		}
		m["planned_increase"] = branch
	}
	if f.NonRenewal != nil {
		branch := map[string]interface{}{}
		if f.NonRenewal.GoodCauseGiven != nil {
			branch["good_cause_given"] = *f.NonRenewal.GoodCauseGiven
		}
		m["non_renewal"] = branch
	}

	return m
}

// ClearPaths resets the values stored at the given dotted paths. Used when
// the wizard retreats so a revisited step never shows stale values.
func (f *FormFields) ClearPaths(paths []string) {
	for _, path := range paths {
		switch path {
		case PathReason:
			f.Reason = ""
			f.PlannedIncrease = nil
			f.NonRenewal = nil
		case PathUnreasonableIncrease:
			if f.PlannedIncrease != nil {
				f.PlannedIncrease.UnreasonableIncrease = nil
			}
		case PathGoodCauseGiven:
			if f.NonRenewal != nil {
				f.NonRenewal.GoodCauseGiven = nil
			}
		case PathUserFirstName:
			f.User.FirstName = ""
		case PathUserLastName:
			f.User.LastName = ""
		case PathUserPhone:
			f.User.Phone = ""
		case PathUserEmail:
			f.User.Email = ""
		case PathUserBBL:
			f.User.BBL = ""
		case PathUserAddrPrimary:
			f.User.Address.PrimaryLine = ""
		case PathUserAddrSecondary:
			f.User.Address.SecondaryLine = ""
		case PathUserAddrCity:
			f.User.Address.City = ""
		case PathUserAddrState:
			f.User.Address.State = ""
		case PathUserAddrZip:
			f.User.Address.Zip = ""
		case PathUserAddrNoUnit:
			f.User.Address.NoUnit = false
		case PathLandlordName:
			f.Landlord.Name = ""
		case PathLandlordEmail:
			f.Landlord.Email = ""
		case PathLandlordAddrPrimary:
			f.Landlord.Address.PrimaryLine = ""
		case PathLandlordAddrSecondary:
			f.Landlord.Address.SecondaryLine = ""
		case PathLandlordAddrCity:
			f.Landlord.Address.City = ""
		case PathLandlordAddrState:
			f.Landlord.Address.State = ""
		case PathLandlordAddrZip:
			f.Landlord.Address.Zip = ""
		case PathLandlordAddrNoUnit:
			f.Landlord.Address.NoUnit = false
		case PathMailChoice:
			f.MailChoice = ""
		case PathExtraEmails:
			f.ExtraEmails = nil
		case PathCCUser:
			f.CCUser = false
		}
	}
}

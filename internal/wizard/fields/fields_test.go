package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

// ==========================
// Branch Invariant Tests
// ==========================

func TestSetReason_ExactlyOneBranchPopulated(t *testing.T) {
	f := &FormFields{}

	f.SetReason(ReasonPlannedIncrease)
	assert.NotNil(t, f.PlannedIncrease)
	assert.Nil(t, f.NonRenewal)

	f.PlannedIncrease.UnreasonableIncrease = boolPtr(true)
	f.SetReason(ReasonNonRenewal)
	assert.Nil(t, f.PlannedIncrease, "switching branches discards the old answers")
	assert.NotNil(t, f.NonRenewal)

	// Switching back starts from a blank branch record.
	f.SetReason(ReasonPlannedIncrease)
	require.NotNil(t, f.PlannedIncrease)
	assert.Nil(t, f.PlannedIncrease.UnreasonableIncrease)
}

func TestSetReason_SameReasonKeepsAnswers(t *testing.T) {
	f := &FormFields{}
	f.SetReason(ReasonPlannedIncrease)
	f.PlannedIncrease.UnreasonableIncrease = boolPtr(true)

	f.SetReason(ReasonPlannedIncrease)
	require.NotNil(t, f.PlannedIncrease.UnreasonableIncrease)
	assert.True(t, *f.PlannedIncrease.UnreasonableIncrease)
}

// ==========================
// Flatten Tests
// ==========================

func TestFlatten_UnsetAnswerOmitted(t *testing.T) {
	f := &FormFields{}
	f.SetReason(ReasonPlannedIncrease)

	flat := f.Flatten()
	branch, ok := flat["planned_increase"].(map[string]interface{})
	require.True(t, ok)
	_, present := branch["unreasonable_increase"]
	assert.False(t, present, "nil answers must look absent to required checks")

	f.PlannedIncrease.UnreasonableIncrease = boolPtr(false)
	flat = f.Flatten()
	branch = flat["planned_increase"].(map[string]interface{})
	assert.Equal(t, false, branch["unreasonable_increase"], "an answered false is a value, not an absence")
}

func TestFlatten_NestedAddress(t *testing.T) {
	f := &FormFields{}
	f.User.Address = MailingAddress{
		PrimaryLine: "150 Court St",
		City:        "Brooklyn",
		State:       "NY",
		Zip:         "11201",
		NoUnit:      true,
	}

	flat := f.Flatten()
	user := flat["user_details"].(map[string]interface{})
	addr := user["address"].(map[string]interface{})
	assert.Equal(t, "150 Court St", addr["primary_line"])
	assert.Equal(t, true, addr["no_unit"])
	_, present := addr["secondary_line"]
	assert.False(t, present)
}

// ==========================
// ClearPaths Tests
// ==========================

func TestClearPaths_AddressGroup(t *testing.T) {
	f := &FormFields{}
	f.User.Address = MailingAddress{
		PrimaryLine:   "150 Court St",
		SecondaryLine: "Apt 2",
		City:          "Brooklyn",
		State:         "NY",
		Zip:           "11201",
	}
	f.User.FirstName = "Maria"

	f.ClearPaths([]string{
		PathUserAddrPrimary,
		PathUserAddrSecondary,
		PathUserAddrCity,
		PathUserAddrState,
		PathUserAddrZip,
		PathUserAddrNoUnit,
	})

	assert.True(t, f.User.Address.IsEmpty())
	assert.Equal(t, "Maria", f.User.FirstName)
}

func TestClearPaths_ReasonDropsBothBranches(t *testing.T) {
	f := &FormFields{}
	f.SetReason(ReasonNonRenewal)
	f.NonRenewal.GoodCauseGiven = boolPtr(true)

	f.ClearPaths([]string{PathReason})
	assert.Empty(t, f.Reason)
	assert.Nil(t, f.NonRenewal)
	assert.Nil(t, f.PlannedIncrease)
}

// ==========================
// Display Tests
// ==========================

func TestOneLine(t *testing.T) {
	a := MailingAddress{
		PrimaryLine:   "150 Court St",
		SecondaryLine: "Apt 2",
		City:          "Brooklyn",
		State:         "NY",
		Zip:           "11201",
	}
	assert.Equal(t, "150 Court St, Apt 2, Brooklyn, NY, 11201", a.OneLine())

	b := MailingAddress{PrimaryLine: "1 Main St", City: "New York", State: "NY", Zip: "10001"}
	assert.Equal(t, "1 Main St, New York, NY, 10001", b.OneLine())
}

func TestFullName(t *testing.T) {
	u := UserDetails{FirstName: "Maria", LastName: "Lopez"}
	assert.Equal(t, "Maria Lopez", u.FullName())
	assert.Equal(t, "Maria", UserDetails{FirstName: "Maria"}.FullName())
}

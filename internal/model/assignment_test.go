package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentStatusTransitions(t *testing.T) {
	assert.True(t, AssignmentPending.CanTransitionTo(AssignmentInProgress))
	assert.False(t, AssignmentPending.CanTransitionTo(AssignmentCompleted))
	assert.True(t, AssignmentInProgress.CanTransitionTo(AssignmentPending))
	assert.True(t, AssignmentInProgress.CanTransitionTo(AssignmentCompleted))
	for _, next := range []AssignmentStatus{AssignmentPending, AssignmentInProgress, AssignmentCompleted} {
		assert.False(t, AssignmentCompleted.CanTransitionTo(next), "completed -> %s", next)
	}
	assert.False(t, AssignmentStatus("archived").Valid())
}

func TestSyncActiveKey(t *testing.T) {
	a := &Assignment{CounselorID: 12, ScenarioID: "scn-9", Status: AssignmentPending}
	a.SyncActiveKey()
	require.NotNil(t, a.ActiveKey)
	assert.Equal(t, "12:scn-9", *a.ActiveKey)

	a.Status = AssignmentCompleted
	a.SyncActiveKey()
	assert.Nil(t, a.ActiveKey)
}

func TestSessionOwner(t *testing.T) {
	user := uint(4)
	practice := &Session{UserID: &user}
	assert.True(t, practice.IsPractice())
	assert.Equal(t, uint(4), practice.OwnerID(nil))

	assignmentID := "a-1"
	run := &Session{AssignmentID: &assignmentID}
	assert.Equal(t, uint(8), run.OwnerID(&Assignment{CounselorID: 8}))
}

func TestCanAccessResource(t *testing.T) {
	assert.True(t, CanAccessResource(Actor{ID: 3, Role: Counselor}, 3))
	assert.False(t, CanAccessResource(Actor{ID: 3, Role: Counselor}, 4))
	assert.True(t, CanAccessResource(Actor{ID: 1, Role: Supervisor}, 4))
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, FlagCritical, NormalizeSeverity("critical"))
	assert.Equal(t, FlagWarning, NormalizeSeverity("warning"))
	assert.Equal(t, FlagInfo, NormalizeSeverity("info"))
	assert.Equal(t, FlagInfo, NormalizeSeverity("severe"))
	assert.Equal(t, FlagCritical, NormalizeSeverity(" Critical "))
}

func TestNormalizeFlagType(t *testing.T) {
	assert.Equal(t, FlagTypeUnspecified, NormalizeFlagType(""))
	assert.Equal(t, FlagTypeUnspecified, NormalizeFlagType("   "))
	assert.Equal(t, "risk_not_assessed", NormalizeFlagType(" risk_not_assessed "))

	long := strings.Repeat("suicide_risk_not_explored_", 4)
	got := NormalizeFlagType(long)
	assert.Equal(t, MaxFlagTypeLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasPrefix(long, got))

	// multi-byte input is cut on character boundaries
	wide := strings.Repeat("未评估风险", 20)
	got = NormalizeFlagType(wide)
	assert.Equal(t, MaxFlagTypeLen, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

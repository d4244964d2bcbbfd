package queue

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

const (
	testUser = "user-1"
	testPK   = "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37"
	testRule = "11111111-1111-1111-1111-111111111111"
)

func pendingUpdate(id string, results ...contracts.ExecutionResult) *contracts.LocationUpdate {
	return &contracts.LocationUpdate{
		ID:               id,
		UserID:           testUser,
		PublicKey:        testPK,
		ReceivedAt:       time.Now().UTC(),
		Status:           contracts.UpdateMatched,
		MatchedRuleIDs:   []string{testRule},
		ExecutionResults: results,
	}
}

func placeholder(rule, matchedPK string) contracts.ExecutionResult {
	return contracts.ExecutionResult{
		RuleID:           rule,
		Skipped:          true,
		Reason:           contracts.SkipRequiresWebauthn,
		MatchedPublicKey: matchedPK,
	}
}

func TestFindTargetPlaceholder(t *testing.T) {
	row := pendingUpdate("u1", placeholder(testRule, testPK))
	idx, ok := findTarget(row, CompletionRequest{RuleID: testRule, UserID: testUser})
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestFindTargetMatchedKeyNarrows(t *testing.T) {
	other := "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	row := pendingUpdate("u1",
		placeholder(testRule, other),
		placeholder(testRule, testPK),
	)
	idx, ok := findTarget(row, CompletionRequest{RuleID: testRule, UserID: testUser, MatchedPublicKey: testPK})
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestFindTargetIdempotentOnSameKey(t *testing.T) {
	now := time.Now().UTC()
	row := pendingUpdate("u1", contracts.ExecutionResult{
		RuleID:           testRule,
		Completed:        true,
		CompletedAt:      &now,
		MatchedPublicKey: testPK,
		TransactionHash:  "abc",
	})
	idx, ok := findTarget(row, CompletionRequest{RuleID: testRule, UserID: testUser, MatchedPublicKey: testPK})
	require.True(t, ok)
	assert.Equal(t, alreadyCompleted, idx)

	// Same transaction hash is idempotent even with a different matched key.
	idx, ok = findTarget(row, CompletionRequest{
		RuleID: testRule, UserID: testUser,
		MatchedPublicKey: "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
		TransactionHash:  "abc",
	})
	require.True(t, ok)
	assert.Equal(t, alreadyCompleted, idx)
}

func TestFindTargetRejectedNotActionable(t *testing.T) {
	row := pendingUpdate("u1", contracts.ExecutionResult{
		RuleID:   testRule,
		Skipped:  true,
		Reason:   contracts.SkipRequiresWebauthn,
		Rejected: true,
	})
	_, ok := findTarget(row, CompletionRequest{RuleID: testRule, UserID: testUser})
	assert.False(t, ok)
}

func TestFindTargetOtherReasonNotActionable(t *testing.T) {
	row := pendingUpdate("u1", contracts.ExecutionResult{
		RuleID:  testRule,
		Skipped: true,
		Reason:  contracts.SkipRateLimited,
	})
	_, ok := findTarget(row, CompletionRequest{RuleID: testRule, UserID: testUser})
	assert.False(t, ok, "only webauthn placeholders are completable")
}

func TestCompleteElementPreservesPosition(t *testing.T) {
	m := &Manager{}
	row := pendingUpdate("u1",
		placeholder("other-rule", ""),
		placeholder(testRule, testPK),
	)
	now := time.Now().UTC()
	m.completeElement(row, 1, CompletionRequest{
		RuleID:          testRule,
		UserID:          testUser,
		TransactionHash: "deadbeef",
	}, now)

	el := row.ExecutionResults[1]
	assert.True(t, el.Completed)
	assert.Equal(t, "deadbeef", el.TransactionHash)
	assert.Equal(t, testPK, el.MatchedPublicKey, "placeholder's matched key preserved")
	assert.False(t, el.Skipped == true && el.Reason != "", "skip reason dropped")
	assert.True(t, el.DirectExecution)
	require.NotNil(t, el.Success)
	assert.True(t, *el.Success)

	// Untouched sibling.
	assert.True(t, row.ExecutionResults[0].ActionablePending())
	assert.Equal(t, contracts.UpdateExecuted, row.Status)
	assert.NotNil(t, row.ProcessedAt)
}

func TestPendingPlaceholderJSON(t *testing.T) {
	var probe []map[string]any
	require.NoError(t, json.Unmarshal(pendingPlaceholderJSON(testRule, testPK), &probe))
	require.Len(t, probe, 1)
	assert.Equal(t, testRule, probe[0]["rule_id"])
	assert.Equal(t, true, probe[0]["skipped"])
	assert.Equal(t, string(contracts.SkipRequiresWebauthn), probe[0]["reason"])
	assert.Equal(t, testPK, probe[0]["matched_public_key"])

	require.NoError(t, json.Unmarshal(pendingPlaceholderJSON(testRule, ""), &probe))
	assert.NotContains(t, probe[0], "matched_public_key")
}

func updateRows(u *contracts.LocationUpdate) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "public_key", "latitude", "longitude",
		"received_at", "processed_at", "status", "matched_rule_ids", "execution_results",
	})
	ruleIDs, _ := json.Marshal(u.MatchedRuleIDs)
	results, _ := json.Marshal(u.ExecutionResults)
	rows.AddRow(u.ID, u.UserID, u.PublicKey, u.Latitude, u.Longitude,
		u.ReceivedAt, u.ProcessedAt, string(u.Status), ruleIDs, results)
	return rows
}

func TestMarkRejectedFlipsPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	row := pendingUpdate("u1", placeholder(testRule, testPK))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM location_update_queue`).
		WithArgs(testUser, pendingPlaceholderJSON(testRule, testPK)).
		WillReturnRows(updateRows(row))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE location_update_queue`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewManager(db, NewPostgresHistory(db), nil)
	changed, err := m.MarkRejected(context.Background(), testRule, testUser, testPK)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRejectedIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rejectedAt := time.Now().UTC().Add(-time.Hour)
	row := pendingUpdate("u1", contracts.ExecutionResult{
		RuleID:     testRule,
		Skipped:    true,
		Reason:     contracts.SkipRequiresWebauthn,
		Rejected:   true,
		RejectedAt: &rejectedAt,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM location_update_queue`).
		WillReturnRows(updateRows(row))
	mock.ExpectCommit()

	m := NewManager(db, NewPostgresHistory(db), nil)
	changed, err := m.MarkRejected(context.Background(), testRule, testUser, "")
	require.NoError(t, err)
	assert.Zero(t, changed, "already-rejected elements are untouched")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRejectedRequiresIdentity(t *testing.T) {
	m := NewManager(nil, nil, nil)
	_, err := m.MarkRejected(context.Background(), "", testUser, "")
	assert.Error(t, err)
	_, err = m.MarkRejected(context.Background(), testRule, "", "")
	assert.Error(t, err)
}

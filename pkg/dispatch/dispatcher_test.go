package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geomatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/queue"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

const (
	testUser = "user-1"
	testPK   = "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37"
)

type stubRuleSource struct {
	rules []*contracts.ExecutionRule
}

func (s *stubRuleSource) ActiveRules(context.Context) ([]*contracts.ExecutionRule, error) {
	return s.rules, nil
}

type stubFenceSource struct{}

func (stubFenceSource) Geofence(context.Context, string) (*contracts.Geofence, error) {
	return nil, errors.New("not found")
}

type stubContracts struct {
	contract *contracts.CustomContract
	err      error
}

func (s *stubContracts) GetAnyOwner(context.Context, string) (*contracts.CustomContract, error) {
	return s.contract, s.err
}

type stubExecutor struct {
	result contracts.ExecutionResult
	err    error
	calls  int
}

func (s *stubExecutor) AutoExecute(context.Context, *contracts.ExecutionRule, *contracts.CustomContract, *contracts.LocationUpdate) (contracts.ExecutionResult, error) {
	s.calls++
	return s.result, s.err
}

type stubBalances struct {
	below bool
	err   error
}

func (s *stubBalances) BelowThreshold(context.Context, *contracts.ExecutionRule, *contracts.CustomContract) (bool, error) {
	return s.below, s.err
}

func matchingRule(id string) *contracts.ExecutionRule {
	lat, lng, radius := 40.7580, -73.9855, 500.0
	return &contracts.ExecutionRule{
		ID:              id,
		ContractID:      "c1",
		RuleType:        contracts.RuleTypeLocation,
		CenterLatitude:  &lat,
		CenterLongitude: &lng,
		RadiusMeters:    &radius,
		FunctionName:    "checkin",
		TriggerOn:       contracts.TriggerEnter,
		IsActive:        true,
	}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newDispatcher(t *testing.T, db *sql.DB, matched []*contracts.ExecutionRule, source ContractSource, exec AutoExecutor, balances BalanceChecker, hasCredential bool) *Dispatcher {
	t.Helper()
	matcher := geomatch.NewMatcher(&stubRuleSource{rules: matched}, stubFenceSource{}, nil)
	return NewDispatcher(
		matcher,
		queue.NewPostgresQueue(db),
		queue.NewPostgresHistory(db),
		rules.NewQuorumChecker(db, nil),
		rules.NewPostgresRules(db),
		source, exec, balances, nil, hasCredential, nil)
}

func TestIngestNoMatches(t *testing.T) {
	db, mock := newMockDB(t)
	d := newDispatcher(t, db, nil, &stubContracts{}, &stubExecutor{}, nil, false)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err)
	assert.Equal(t, contracts.UpdateMatched, update.Status)
	assert.Empty(t, update.MatchedRuleIDs)
	assert.Empty(t, update.ExecutionResults)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebauthnRuleQueues(t *testing.T) {
	db, mock := newMockDB(t)
	source := &stubContracts{contract: &contracts.CustomContract{
		ID: "c1", IsActive: true, RequiresWebauthn: true,
	}}
	exec := &stubExecutor{}
	d := newDispatcher(t, db, []*contracts.ExecutionRule{matchingRule("r1")}, source, exec, nil, false)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err)
	require.Len(t, update.ExecutionResults, 1)

	res := update.ExecutionResults[0]
	assert.Equal(t, "r1", res.RuleID)
	assert.True(t, res.ActionablePending())
	assert.Equal(t, testPK, res.MatchedPublicKey)
	assert.Equal(t, contracts.UpdateMatched, update.Status, "held rules are not terminal")
	assert.Zero(t, exec.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestAutoExecutes(t *testing.T) {
	db, mock := newMockDB(t)
	source := &stubContracts{contract: &contracts.CustomContract{ID: "c1", IsActive: true}}
	completed := true
	exec := &stubExecutor{result: contracts.ExecutionResult{
		RuleID:          "r1",
		Completed:       true,
		TransactionHash: "abc123",
		Success:         &completed,
	}}
	rule := matchingRule("r1")
	rule.AutoExecute = true
	d := newDispatcher(t, db, []*contracts.ExecutionRule{rule}, source, exec, nil, true)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO rule_execution_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err)
	require.Len(t, update.ExecutionResults, 1)
	assert.True(t, update.ExecutionResults[0].Completed)
	assert.Equal(t, contracts.UpdateExecuted, update.Status)
	assert.Equal(t, 1, exec.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestRateLimitedRuleSkips(t *testing.T) {
	db, mock := newMockDB(t)
	source := &stubContracts{contract: &contracts.CustomContract{ID: "c1", IsActive: true}}
	exec := &stubExecutor{}

	rule := matchingRule("r1")
	rule.AutoExecute = true
	capPerKey, window := 1, 3600
	rule.MaxExecutionsPerPublicKey = &capPerKey
	rule.ExecutionTimeWindowSeconds = &window

	d := newDispatcher(t, db, []*contracts.ExecutionRule{rule}, source, exec, nil, true)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\)[\s\S]*FROM rule_execution_history`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`UPDATE location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err)
	require.Len(t, update.ExecutionResults, 1)
	assert.Equal(t, contracts.SkipRateLimited, update.ExecutionResults[0].Reason)
	assert.Zero(t, exec.calls, "rate-limited rules never reach the executor")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestInactiveContractSkips(t *testing.T) {
	db, mock := newMockDB(t)
	source := &stubContracts{contract: &contracts.CustomContract{ID: "c1", IsActive: false}}
	d := newDispatcher(t, db, []*contracts.ExecutionRule{matchingRule("r1")}, source, &stubExecutor{}, nil, true)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err)
	require.Len(t, update.ExecutionResults, 1)
	assert.Equal(t, contracts.SkipContractInactive, update.ExecutionResults[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestBalanceThresholdDeactivates(t *testing.T) {
	db, mock := newMockDB(t)
	source := &stubContracts{contract: &contracts.CustomContract{ID: "c1", IsActive: true}}

	rule := matchingRule("r1")
	rule.AutoExecute = true
	rule.AutoDeactivateOnBalanceThreshold = true
	threshold := 5.0
	rule.BalanceThresholdXLM = &threshold

	d := newDispatcher(t, db, []*contracts.ExecutionRule{rule}, source, &stubExecutor{}, &stubBalances{below: true}, true)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE contract_execution_rules SET is_active = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err)
	require.Len(t, update.ExecutionResults, 1)
	assert.Equal(t, contracts.SkipBalanceLow, update.ExecutionResults[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestExecutorErrorRecorded(t *testing.T) {
	db, mock := newMockDB(t)
	source := &stubContracts{contract: &contracts.CustomContract{ID: "c1", IsActive: true}}
	exec := &stubExecutor{err: errors.New("simulation failed")}

	rule := matchingRule("r1")
	rule.AutoExecute = true
	d := newDispatcher(t, db, []*contracts.ExecutionRule{rule}, source, exec, nil, true)

	mock.ExpectExec(`INSERT INTO location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE location_update_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	update, err := d.Ingest(context.Background(), testUser, testPK, 40.7555, -73.9870)
	require.NoError(t, err, "per-rule failures never fail the ingest")
	require.Len(t, update.ExecutionResults, 1)

	res := update.ExecutionResults[0]
	require.NotNil(t, res.Success)
	assert.False(t, *res.Success)
	assert.Contains(t, res.Error, "simulation failed")
	assert.Equal(t, contracts.UpdateMatched, update.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

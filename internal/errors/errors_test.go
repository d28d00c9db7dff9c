package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanError_Error(t *testing.T) {
	err := NewScanErrorWithTarget(CodeScanFailed, "probe failed", "192.168.1.10")
	assert.Equal(t, "[SCAN_FAILED] probe failed (target: 192.168.1.10)", err.Error())

	err2 := NewScanError(CodeScanFailed, "probe failed")
	assert.Equal(t, "[SCAN_FAILED] probe failed", err2.Error())
}

func TestScanError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := WrapScanError(CodeHostUnreachable, "ping failed", cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestScanError_WithContext(t *testing.T) {
	err := NewScanError(CodeScanFailed, "probe failed").
		WithContext("port", 443).
		WithContext("attempt", 2)
	assert.Equal(t, 443, err.Context["port"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestDatabaseError(t *testing.T) {
	cause := stderrors.New("pq: timeout")
	err := ErrDatabaseQuery("SELECT * FROM devices", cause)
	assert.Equal(t, CodeDatabaseQuery, err.Code)
	assert.Equal(t, "SELECT * FROM devices", err.Query)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestDiscoveryError(t *testing.T) {
	cause := stderrors.New("arp: exit status 1")
	err := ErrDiscoveryFailed("192.168.1.0/24", cause)
	assert.Equal(t, CodeDiscoveryFailed, err.Code)
	assert.Contains(t, err.Error(), "192.168.1.0/24")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestAlertError(t *testing.T) {
	err := NewAlertError(CodeRuleInvalid, "empty condition tree")
	err.RuleID = "rule-7"
	assert.Equal(t, "[RULE_INVALID] empty condition tree (rule: rule-7)", err.Error())

	cause := stderrors.New("insert failed")
	wrapped := ErrAlertPersist(cause)
	assert.Equal(t, CodeAlertPersist, wrapped.Code)
	assert.Equal(t, cause, stderrors.Unwrap(wrapped))
}

func TestConfigError(t *testing.T) {
	err := ErrConfigInvalid("scanning.ping_concurrency", -1)
	assert.Equal(t, CodeValidation, err.Code)
	assert.Contains(t, err.Error(), "scanning.ping_concurrency")

	missing := ErrConfigMissing("database.host")
	assert.Equal(t, CodeConfiguration, missing.Code)
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(ErrScanInProgress(), CodeScanInProgress))
	assert.True(t, IsCode(NewDatabaseError(CodeDatabaseTimeout, "slow"), CodeDatabaseTimeout))
	assert.True(t, IsCode(NewAlertError(CodeNotifyFailure, "webhook"), CodeNotifyFailure))
	assert.False(t, IsCode(stderrors.New("plain"), CodeScanFailed))
	assert.False(t, IsCode(NewScanError(CodeScanFailed, "x"), CodeCanceled))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, CodeCanceled, GetCode(ErrScanCanceled("scan-1")))
	assert.Equal(t, CodeUnknown, GetCode(stderrors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewScanError(CodeTimeout, "slow")))
	assert.True(t, IsRetryable(NewDatabaseError(CodeDatabaseTimeout, "slow")))
	assert.False(t, IsRetryable(NewScanError(CodeCanceled, "stopped")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewConfigError(CodeConfiguration, "missing")))
	assert.True(t, IsFatal(NewDatabaseError(CodeDatabaseMigration, "bad checksum")))
	assert.False(t, IsFatal(NewScanError(CodeTimeout, "slow")))
}

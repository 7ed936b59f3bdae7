package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaRejectsFourthAnonymousGeneration(t *testing.T) {
	q := NewQuota(DefaultFreeGenerations)
	for i := 0; i < 3; i++ {
		done, err := q.Reserve("wizard:1", false)
		require.NoError(t, err)
		done(true)
	}
	_, err := q.Reserve("wizard:1", false)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 0, q.Remaining("wizard:1"))

	_, err = q.Reserve("wizard:1", true)
	assert.NoError(t, err, "signed-in callers are not limited")
	_, err = q.Reserve("wizard:2", false)
	assert.NoError(t, err, "quotas are per key")
}

func TestQuotaFailedAttemptsDoNotCount(t *testing.T) {
	q := NewQuota(1)
	done, err := q.Reserve("k", false)
	require.NoError(t, err)
	_, err = q.Reserve("k", false)
	assert.ErrorIs(t, err, ErrQuotaExceeded, "in-flight reservations hold a slot")
	done(false)
	done(true)
	assert.Equal(t, 0, q.Used("k"))

	done, err = q.Reserve("k", false)
	require.NoError(t, err)
	done(true)
	assert.Equal(t, 1, q.Used("k"))
	q.Forget("k")
	assert.Equal(t, 1, q.Remaining("k"))
}

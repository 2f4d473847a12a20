/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FiveField(t *testing.T) {
	sched, err := Parse("*/5 * * * *")
	require.NoError(t, err)

	after := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), sched.Next(after))
}

func TestParse_SixFieldSeconds(t *testing.T) {
	sched, err := Parse("30 * * * * *")
	require.NoError(t, err)

	after := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 2, 30, 0, time.UTC), sched.Next(after))
}

func TestParse_Descriptors(t *testing.T) {
	for _, expr := range []string{"@hourly", "@daily", "@every 5m"} {
		assert.NoError(t, Validate(expr), expr)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{"", "   ", "not a cron", "61 * * * *", "* * * *"} {
		err := Validate(expr)
		assert.ErrorIs(t, err, ErrInvalidCron, expr)
	}
}

func TestNextFire_Deterministic(t *testing.T) {
	after := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	first, err := NextFire("0 0 * * *", after)
	require.NoError(t, err)
	second, err := NextFire("0 0 * * *", after)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), first)
}

func TestNextFire_StrictlyAfter(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	next, err := NextFire("*/5 * * * *", at)
	require.NoError(t, err)
	assert.True(t, next.After(at))
}

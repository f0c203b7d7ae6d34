// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics(t *testing.T) {
	m := InitMetrics()
	require.NotNil(t, m)

	t.Run("second init returns the same instance", func(t *testing.T) {
		assert.Same(t, m, InitMetrics())
	})

	t.Run("helpers do not panic", func(t *testing.T) {
		m.RecordMutation(OpCreate, OutcomeSuccess, 0.01)
		m.RecordMutation(OpUpdate, OutcomeConflict, 0.02)
		m.RecordRetry(OpDelete)
		m.RecordCascade(5, 5)
	})
}

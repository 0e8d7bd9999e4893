// SPDX-License-Identifier: Apache-2.0

// Package test holds helpers shared by the package tests.
package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Assert is a local version of testify/assert with some extensions
type Assert struct {
	*assert.Assertions

	t *testing.T
}

// NoErrorFatal fails the test immediately on error
func (a *Assert) NoErrorFatal(err error) {
	a.NoError(err)
	if err != nil {
		a.t.Logf("Stopping test %s due to fatal error", a.t.Name())
		a.t.FailNow()
	}
}

func NewAssert(t *testing.T) *Assert {
	a := assert.New(t)
	return &Assert{a, t}
}

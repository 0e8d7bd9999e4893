// SPDX-License-Identifier: Apache-2.0

package anonymous

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/realm"
	"github.com/golang-auth/go-sasl/test"
)

func TestExchange(t *testing.T) {
	for _, trace := range []string{"", "sirhc@example.com", "ünïcödé"} {
		t.Run(trace, func(t *testing.T) {
			assert := test.NewAssert(t)

			c, err := sasl.NewClient(MechName, sasl.WithTrace(trace))
			assert.NoErrorFatal(err)
			defer c.Dispose()
			s, err := sasl.NewServer(MechName)
			assert.NoErrorFatal(err)
			defer s.Dispose()

			resp, err := c.Evaluate(nil)
			assert.NoErrorFatal(err)
			assert.Equal(trace, string(resp))
			assert.True(c.IsComplete())

			resp, err = s.Evaluate(resp)
			assert.NoErrorFatal(err)
			assert.Nil(resp)
			assert.True(s.IsComplete())
			assert.Equal(trace, s.(*Server).Trace())

			for _, m := range []sasl.Mechanism{c, s} {
				out, err := m.Outcome()
				assert.NoErrorFatal(err)
				assert.Equal(realm.AnonymousName, out.AuthenticationID)
				assert.Equal(realm.AnonymousName, out.AuthorizationID)
				assert.Equal(sasl.QOPAuth, out.QOP)
				assert.Equal(sasl.KindAnonymous, m.Kind())
			}
		})
	}
}

func TestTraceLength(t *testing.T) {
	long := strings.Repeat("é", MaxTraceLength)

	_, err := NewClient(sasl.NewConfig(sasl.WithTrace(long)))
	assert.NoError(t, err)

	_, err = NewClient(sasl.NewConfig(sasl.WithTrace(long + "x")))
	assert.ErrorIs(t, err, sasl.ErrProtocolViolation)

	s, err := NewServer(sasl.NewConfig())
	assert.NoError(t, err)
	_, err = s.Evaluate([]byte(long + "x"))
	assert.ErrorIs(t, err, sasl.ErrProtocolViolation)
	assert.Equal(t, sasl.StateFailed, s.State())

	s, _ = NewServer(sasl.NewConfig())
	_, err = s.Evaluate([]byte{0xff, 0xfe})
	assert.ErrorIs(t, err, sasl.ErrProtocolViolation)
}

func TestUnexpectedTokens(t *testing.T) {
	c, _ := NewClient(sasl.NewConfig())
	_, err := c.Evaluate([]byte("challenge"))
	assert.ErrorIs(t, err, sasl.ErrProtocolViolation)

	s, _ := NewServer(sasl.NewConfig())
	_, err = s.Evaluate(nil)
	assert.NoError(t, err)
	_, err = s.Evaluate(nil)
	assert.ErrorIs(t, err, sasl.ErrProtocolViolation)
	assert.True(t, s.IsComplete())
}

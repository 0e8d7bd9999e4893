// SPDX-License-Identifier: Apache-2.0

/*
Package saslnet runs SASL negotiations over a stream connection and applies
the negotiated security layer to it.

Negotiation messages are length prefixed.  The client sends tokens produced
by its mechanism; the server answers each with a status byte and the token
produced by its mechanism:

	client                                 server
	len | initial response          ->
	                                <-     len | 0x00 | challenge
	len | response                  ->
	                                <-     len | 0x01 | additional data

Once both sides have an outcome, NewConn wraps the connection so that
application data is protected as negotiated:

	outcome, err := saslnet.RunClient(ctx, conn, mech)
	if err != nil {
		return err
	}
	conn, err = saslnet.NewConn(conn, outcome)
*/
package saslnet
